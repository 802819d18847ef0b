package services

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Ananth-NQI/glamping-leads/internal/models"
)

// Prompt identifiers, recorded in context.last_prompt_id
const (
	PromptWelcome   = "welcome"
	PromptProperty  = "property"
	PromptCity      = "city"
	PromptArrival   = "arrival"
	PromptDeparture = "departure"
	PromptSource    = "source"
	PromptConfirm   = "confirm"
)

// Choice ids
const (
	IntentReserve   = "reserve"
	IntentAskInfo   = "ask_info"
	IntentTalkAgent = "talk_agent"
	ConfirmYes      = "yes"
	ConfirmNo       = "no"
)

// Guest-facing copy
const (
	msgWelcome         = "¡Hola! 👋 Bienvenido a nuestro marketplace de glamping. ¿En qué te podemos ayudar?"
	msgProperty        = "🏕️ ¿Qué glamping te interesa? Escribe el nombre o código del lugar."
	msgCity            = "📍 ¿En qué ciudad o región quieres hospedarte?"
	msgArrival         = "📅 ¿Qué día llegas? Escribe la fecha como DD/MM/AAAA (por ejemplo 12/12/2030)."
	msgDeparture       = "📅 Llegas el %s. ¿Qué día te vas? Escribe la fecha como DD/MM/AAAA."
	msgSource          = "🔎 Por último, ¿cómo nos conociste?"
	msgConfirm         = "Revisa tu solicitud:\n\n%s\n\n¿Confirmamos?"
	msgInfo            = "ℹ️ Somos un marketplace de glamping: reservas directas con anfitriones verificados, pagos seguros y soporte por WhatsApp. Escríbenos cuando quieras reservar."
	msgNotSupported    = "🙏 Por ahora solo entendemos mensajes de texto y las opciones del menú."
	msgTooManyErrors   = "😅 No logramos entender tu respuesta. Empecemos de nuevo: escribe cualquier mensaje para ver el menú."
	msgCancelled       = "👍 Listo, cancelamos la solicitud. Escríbenos cuando quieras empezar de nuevo."
	msgButtonLabel     = "Elegir"
	hintInvalidChoice  = "❌ Elige una de las opciones."
	hintEmptyText      = "❌ La respuesta no puede estar vacía."
	hintCityLength     = "❌ El nombre es demasiado largo (máximo 80 caracteres)."
	hintPropertyLength = "❌ El código es demasiado largo (máximo 64 caracteres)."
	hintBadDate        = "❌ No reconocimos la fecha."
	hintPastDate       = "❌ La fecha ya pasó."
	hintDepartureDate  = "❌ La salida debe ser después de la llegada."
)

// choice is a selectable option plus the free-text spellings that select it.
type choice struct {
	models.Option
	aliases []string
}

var intentChoices = []choice{
	{models.Option{ID: IntentReserve, Title: "Reservar"}, []string{"reservar", "reserva"}},
	{models.Option{ID: IntentAskInfo, Title: "Información"}, []string{"info", "informacion", "información"}},
	{models.Option{ID: IntentTalkAgent, Title: "Hablar con asesor"}, []string{"asesor", "agente", "humano"}},
}

var sourceChoices = []choice{
	{models.Option{ID: models.SourceGoogle, Title: "Google"}, nil},
	{models.Option{ID: models.SourceInstagram, Title: "Instagram"}, []string{"ig"}},
	{models.Option{ID: models.SourceFacebook, Title: "Facebook"}, []string{"fb"}},
	{models.Option{ID: models.SourceFriend, Title: "Un amigo"}, []string{"amigo", "amiga", "referido"}},
	{models.Option{ID: models.SourceOther, Title: "Otro"}, []string{"otro", "otra"}},
}

var confirmChoices = []choice{
	{models.Option{ID: ConfirmYes, Title: "Sí, confirmar"}, []string{"si", "sí", "confirmar", "ok"}},
	{models.Option{ID: ConfirmNo, Title: "No, cancelar"}, []string{"cancelar"}},
}

func options(choices []choice) []models.Option {
	out := make([]models.Option, len(choices))
	for i, c := range choices {
		out[i] = c.Option
	}
	return out
}

// matchChoice resolves a reply id, or free text naming an option by id,
// title, alias or 1-based position.
func matchChoice(event models.InboundEvent, choices []choice) (string, bool) {
	switch event.Kind {
	case models.EventButtonReply, models.EventListReply:
		for _, c := range choices {
			if c.ID == event.ReplyID {
				return c.ID, true
			}
		}
		return "", false
	case models.EventText:
		text := strings.ToLower(strings.TrimSpace(event.Text))
		if text == "" {
			return "", false
		}
		if n, err := strconv.Atoi(text); err == nil {
			if n >= 1 && n <= len(choices) {
				return choices[n-1].ID, true
			}
			return "", false
		}
		for _, c := range choices {
			if text == c.ID || text == strings.ToLower(c.Title) {
				return c.ID, true
			}
			for _, alias := range c.aliases {
				if text == alias {
					return c.ID, true
				}
			}
		}
	}
	return "", false
}

func withHint(hint, body string) string {
	if hint == "" {
		return body
	}
	return hint + "\n\n" + body
}

func welcomePrompt(to, hint string) models.OutboundAction {
	a := models.SendInteractive(to, withHint(hint, msgWelcome), options(intentChoices))
	a.PromptID = PromptWelcome
	return a
}

func propertyPrompt(to, hint string) models.OutboundAction {
	a := models.SendText(to, withHint(hint, msgProperty))
	a.PromptID = PromptProperty
	return a
}

func cityPrompt(to, hint string) models.OutboundAction {
	a := models.SendText(to, withHint(hint, msgCity))
	a.PromptID = PromptCity
	return a
}

func arrivalPrompt(to, hint string) models.OutboundAction {
	a := models.SendText(to, withHint(hint, msgArrival))
	a.PromptID = PromptArrival
	return a
}

func departurePrompt(to, hint string, c models.Context) models.OutboundAction {
	a := models.SendText(to, withHint(hint, fmt.Sprintf(msgDeparture, displayDate(c.ArrivalDate))))
	a.PromptID = PromptDeparture
	return a
}

func sourcePrompt(to, hint string) models.OutboundAction {
	a := models.SendInteractive(to, withHint(hint, msgSource), options(sourceChoices))
	a.ButtonLabel = msgButtonLabel
	a.PromptID = PromptSource
	return a
}

func confirmPrompt(to, hint string, c models.Context) models.OutboundAction {
	a := models.SendInteractive(to, withHint(hint, fmt.Sprintf(msgConfirm, summary(c))), options(confirmChoices))
	a.PromptID = PromptConfirm
	return a
}

func summary(c models.Context) string {
	var b strings.Builder
	if c.PropertyID != "" {
		fmt.Fprintf(&b, "🏕️ Glamping: %s\n", c.PropertyID)
	}
	fmt.Fprintf(&b, "📍 Ciudad: %s\n", c.City)
	fmt.Fprintf(&b, "📅 Llegada: %s\n", displayDate(c.ArrivalDate))
	fmt.Fprintf(&b, "📅 Salida: %s\n", displayDate(c.DepartureDate))
	fmt.Fprintf(&b, "🔎 Nos conociste por: %s", sourceTitle(c.Source))
	return b.String()
}

func sourceTitle(id string) string {
	for _, c := range sourceChoices {
		if c.ID == id {
			return c.Title
		}
	}
	return id
}
