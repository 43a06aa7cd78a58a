package engine

import (
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"
)

// Messages are the reply templates. {job} and {slot} are substituted where
// noted. A flow may override any of them through its messages block.
type Messages struct {
	Greeting          string `mapstructure:"greeting"`
	IdleGreeting      string `mapstructure:"idle_greeting"`
	Farewell          string `mapstructure:"farewell"`
	Restart           string `mapstructure:"restart"`
	NoMoreQuestions   string `mapstructure:"no_more_questions"`
	EmptyAnswer       string `mapstructure:"empty_answer"`
	InvalidEmail      string `mapstructure:"invalid_email"`
	InvalidPhone      string `mapstructure:"invalid_phone"`
	InvalidNumber     string `mapstructure:"invalid_number"`
	InvalidName       string `mapstructure:"invalid_name"`
	InvalidSelection  string `mapstructure:"invalid_selection"`
	NoMatches         string `mapstructure:"no_matches"`
	ChooseJob         string `mapstructure:"choose_job"`
	JobSelected       string `mapstructure:"job_selected"` // {job}
	NoSlots           string `mapstructure:"no_slots"`     // {job}
	ChooseSlot        string `mapstructure:"choose_slot"`  // {job}
	InterviewDeclined string `mapstructure:"interview_declined"`
	SlotTaken         string `mapstructure:"slot_taken"`
	Confirmed         string `mapstructure:"confirmed"` // {job} {slot}
	Apology           string `mapstructure:"apology"`
	TryAgain          string `mapstructure:"try_again"`
}

// DefaultMessages returns the built-in Spanish templates.
func DefaultMessages() Messages {
	return Messages{
		Greeting:          "¡Hola! Soy el asistente de reclutamiento de huntRED.",
		IdleGreeting:      "¡Hola! Escribe \"menu\" para ver las opciones o cuéntame qué trabajo buscas.",
		Farewell:          "¡Gracias por platicar con nosotros! Escríbenos cuando quieras retomar.",
		Restart:           "Empecemos de nuevo.",
		NoMoreQuestions:   "No hay más preguntas por ahora. ¡Gracias! Te contactaremos pronto.",
		EmptyAnswer:       "Necesito una respuesta para continuar.",
		InvalidEmail:      "Ese correo no parece válido. Escríbelo como nombre@dominio.com.",
		InvalidPhone:      "Ese teléfono no parece válido. Escribe solo los dígitos, incluyendo lada.",
		InvalidNumber:     "Necesito un número.",
		InvalidName:       "Escribe tu nombre, por favor.",
		InvalidSelection:  "Selección inválida. Responde con el número de una de las opciones.",
		NoMatches:         "No encontramos vacantes que coincidan con tus habilidades. Cuéntanos otras habilidades o experiencia.",
		ChooseJob:         "Estas son las vacantes que mejor coinciden contigo. Responde con el número de la que te interesa:",
		JobSelected:       "Elegiste: {job}.",
		NoSlots:           "Por ahora no hay horarios de entrevista disponibles para {job}. Te avisaremos cuando se abran nuevos.",
		ChooseSlot:        "Horarios disponibles para {job}. Responde con el número del que prefieras:",
		InterviewDeclined: "Está bien, no agendamos entrevista por ahora. Escribe \"menu\" cuando quieras retomar.",
		SlotTaken:         "Ese horario acaba de ser reservado por alguien más.",
		Confirmed:         "¡Listo! Tu entrevista para {job} quedó agendada el {slot}.",
		Apology:           "Lo siento, tuvimos un problema procesando tu mensaje. Escribe \"menu\" para volver al inicio.",
		TryAgain:          "Estamos tardando más de lo normal. Intenta de nuevo en un momento.",
	}
}

// MergeMessages applies overrides on top of base. Unknown keys are an error.
func MergeMessages(base Messages, overrides map[string]string) (Messages, error) {
	if len(overrides) == 0 {
		return base, nil
	}

	merged := base
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		ErrorUnused: true,
		Result:      &merged,
	})
	if err != nil {
		return base, err
	}
	if err := dec.Decode(overrides); err != nil {
		return base, fmt.Errorf("decoding message overrides: %w", err)
	}
	return merged, nil
}

func fill(template, job, slot string) string {
	return strings.NewReplacer("{job}", job, "{slot}", slot).Replace(template)
}
