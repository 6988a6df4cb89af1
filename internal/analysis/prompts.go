package analysis

import (
	"fmt"
	"strings"

	"socialgarden/internal/domain"
)

const SystemInstruction = `
Tu es "Social Garden", une IA experte en dynamique sociale.

OBJECTIF : Cultiver les relations humaines en adaptant ton ton au PROFIL de l'utilisateur.

RÈGLES D'OR :
1. CONFIDENTIALITÉ : Anonymise tout (noms -> rôles).
2. ADAPTATION AU PROFIL (CRITIQUE) :
   - Si l'utilisateur est "Direct/Pragmatique" : Sois concis, factuel, évite les métaphores fleuries. Va droit au but.
   - Si l'utilisateur est "Sensible/Anxieux" : Sois très rassurant, doux et protecteur.
   - Si l'utilisateur est "Cynique/Sceptique" : Utilise un ton un peu plus détaché, intelligent, évite la "positivité toxique" (le niais).
   - Si l'utilisateur est jeune : Ton décontracté. Si âgé : Ton respectueux et posé.

3. ÉVOLUTION : Si tu détectes un trait de caractère évident dans la réponse de l'utilisateur (ex: il s'énerve vite -> "Impulsif"), ajoute-le dans le champ "nouveaux_traits_detectes".

SORTIE JSON ATTENDUE :

Pour le CHECK-IN :
{ "mode": "clinique"|"serre", "sentiment": "..." }

Pour l'ANALYSE (Contextuelle ou Suite de conversation) :
{
  "mode_actif": "clinique"|"serre",
  "analyse_emotion": "Analyse psychologique de la situation.",
  "conseil_textuel": "Conseil adapté au ton du profil.",
  "action_suggeree": "Brouillon de réponse ou mission concrète.",
  "etat_jardin_visuel": {
       "meteo": "soleil"|"pluie"|"nuages"|"orage",
       "plantes": ["tournesol", "chêne", "cactus", "rose"] (Cactus si situation piquante mais gérée),
       "mauvaises_herbes_compostees": boolean
   },
  "nouveaux_traits_detectes": ["Trait1", "Trait2"] (Optionnel, seulement si pertinent)
}
`

const CheckInPrompt = "Analyse cet audio. Comment se sent l'utilisateur ? Réponds uniquement avec le JSON de check-in."

// ContextPrompt frames a full evidence analysis for mode.
func ContextPrompt(mode domain.Mode, profile string) string {
	task := "Positivité détectée. Propose une mission de croissance."
	if mode == domain.ModeTherapeutic {
		task = "Conflit/Stress détecté. Analyse et apaise."
	}
	return fmt.Sprintf("CONTEXTE UTILISATEUR : %s\n\nTÂCHE : %s\nRéponds uniquement avec le JSON d'analyse complète.", profile, task)
}

// FollowUpPrompt frames the user's reaction to the previous advice.
func FollowUpPrompt(priorAdvice string, reaction string, profile string) string {
	return fmt.Sprintf(`CONTEXTE UTILISATEUR : %s

PRÉCÉDENT CONSEIL : "%s"
RÉACTION UTILISATEUR : "%s"

TÂCHE : L'utilisateur n'a pas fini. Analyse sa réaction.
- S'il est insatisfait, propose une approche différente (plus ferme ou plus douce selon le profil).
- S'il veut approfondir, donne des détails tactiques.

Mets à jour l'état du jardin (meteo) selon sa réaction.
Réponds avec le JSON d'analyse complète.`, profile, priorAdvice, reaction)
}

// ProfileSummary serializes profile for prompts. Follow-ups omit sensitivities.
func ProfileSummary(profile domain.UserProfile, withSensitivities bool) string {
	summary := fmt.Sprintf("Pseudo: %s, Age: %s, Traits: %s",
		profile.Pseudonym, profile.AgeRange, strings.Join(profile.Traits, ", "))
	if withSensitivities {
		summary += ", Sensibilités: " + strings.Join(profile.Sensitivities, ", ")
	}
	return summary
}
