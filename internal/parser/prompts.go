package parser

import (
	"fmt"

	"cvmatch-go/internal/types"
)

const outputContract = `Réponds UNIQUEMENT avec un objet JSON, sans texte autour, au format exact :
{
  "hardSkills": [{"name": "..."}],
  "softSkills": [{"name": "..."}],
  "experience": {"totalYears": 0},
  "education": {"level": "..."},
  "culture": {"values": ["..."]}
}
Règles :
- "hardSkills" : technologies, langages, outils, méthodes. Un nom court par entrée.
- "softSkills" : qualités comportementales.
- "experience.totalYears" : nombre décimal >= 0.
- "education.level" : niveau au format français (ex. "Bac+2", "Bac+3", "Bac+5", "Doctorat"), chaîne vide si inconnu.
- "culture.values" : valeurs d'entreprise ou de travail mises en avant.
N'invente rien qui ne figure pas dans le texte.`

var cvSystemPrompt = `Tu es un expert en recrutement qui analyse des CV.
Extrais du CV fourni les compétences du candidat, son expérience professionnelle cumulée en années,
son plus haut niveau de diplôme et les valeurs qui ressortent de son parcours.
` + outputContract

var jobSystemPrompt = `Tu es un expert en recrutement qui analyse des offres d'emploi.
Extrais de l'offre fournie les compétences requises, le nombre minimal d'années d'expérience demandé,
le niveau de diplôme attendu et les valeurs de l'entreprise.
` + outputContract

func buildUserPrompt(role types.Role, text string) string {
	label := "CV"
	if role == types.RoleJob {
		label = "OFFRE D'EMPLOI"
	}
	return fmt.Sprintf("--- %s ---\n%s\n--- FIN ---", label, text)
}
