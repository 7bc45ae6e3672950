package config

// Phrases are the UI labels a View renders.
type Phrases struct {
	Placeholder string
	Send        string
	Close       string
	Thinking    string
}

var phrasebook = map[string]Phrases{
	"en": {Placeholder: "Type a message...", Send: "Send", Close: "Close", Thinking: "Thinking"},
	"es": {Placeholder: "Escribe un mensaje...", Send: "Enviar", Close: "Cerrar", Thinking: "Pensando"},
	"fr": {Placeholder: "Tapez un message...", Send: "Envoyer", Close: "Fermer", Thinking: "Penser"},
}

// SupportedLanguage reports whether phrases exist for lang.
func SupportedLanguage(lang string) bool {
	_, ok := phrasebook[lang]
	return ok
}
