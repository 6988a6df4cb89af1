// Package mission hands out social missions for the growth branch.
package mission

import "math/rand/v2"

// Missions is the fixed pool a mission is drawn from.
var Missions = []string{
	"Envoie un message vocal de gratitude à une personne à qui tu n'as pas parlé depuis 3 mois.",
	"Laisse un commentaire sincère et encourageant sur le travail de quelqu'un (LinkedIn, Insta...).",
	"Complimente un collègue ou un proche sur une qualité qu'on ignore souvent.",
	"Propose ton aide à quelqu'un qui semble débordé aujourd'hui.",
	"Partage une ressource inspirante (livre, podcast) avec un ami qui en a besoin.",
	"Écris un avis positif pour ton café ou commerce de quartier préféré.",
}

// IntN returns a value in [0, n).
type IntN func(n int) int

// Generator picks missions uniformly at random.
type Generator struct {
	missions []string
	intN     IntN
}

// NewGenerator uses math/rand/v2 when intN is nil.
func NewGenerator(intN IntN) *Generator {
	if intN == nil {
		intN = rand.IntN
	}
	return &Generator{missions: Missions, intN: intN}
}

func (g *Generator) Next() string {
	return g.missions[g.intN(len(g.missions))]
}
