// Package fallback produces canned replies when the external agent cannot
// answer a turn.
package fallback

import (
	"fmt"
	"strings"
)

// Template identifies which canned reply a message maps to.
type Template int

const (
	// TemplateGreeting answers messages containing a greeting keyword.
	TemplateGreeting Template = iota
	// TemplateHelp answers help requests and questions.
	TemplateHelp
	// TemplateGeneric answers everything else.
	TemplateGeneric
)

func (t Template) String() string {
	switch t {
	case TemplateGreeting:
		return "greeting"
	case TemplateHelp:
		return "help"
	default:
		return "generic"
	}
}

// Keywords are matched as plain substrings of the lower-cased message, so
// "this" counts as a greeting. Checked in order: greeting, then help.
var (
	greetingKeywords = []string{"hola", "hello", "hi"}
	helpKeywords     = []string{"ayuda", "help", "qué", "que"}
)

const greetingReply = `¡Hola! Soy ALPAR, tu asistente virtual. Recibí tu mensaje: "%s".

Actualmente estoy funcionando en modo de demostración ya que el agente de IA no está configurado.

**¿Qué puedo hacer por ti?**
- Responder preguntas generales
- Ayudarte con información básica
- Mostrarte las capacidades de la interfaz

Para habilitar las funcionalidades completas de IA, configura las credenciales del agente.`

const helpReply = `¡Perfecto! Entiendo que quieres: "%s".

Como asistente ALPAR, estoy aquí para ayudarte. Aunque actualmente estoy en modo de demostración, puedo:

**📋 Funcionalidades disponibles:**
- ✅ Interfaz de chat interactiva
- ✅ Renderizado de Markdown
- ✅ Soporte para gráficos y tablas
- ✅ Respuestas contextuales básicas

**🔧 Para funcionalidad completa:**
Configura las credenciales del agente en el servidor.`

const genericReply = `¡Excelente pregunta! "%s" es muy interesante.

**🤖 Estado actual:** Modo demostración
**🎯 Capacidades:** Interfaz completa + respuestas básicas
**🚀 Próximo paso:** Configurar la autenticación del agente

¿Hay algo específico en lo que pueda ayudarte mientras tanto?`

// Classify picks the template for message.
func Classify(message string) Template {
	lower := strings.ToLower(message)
	switch {
	case containsAny(lower, greetingKeywords):
		return TemplateGreeting
	case containsAny(lower, helpKeywords):
		return TemplateHelp
	default:
		return TemplateGeneric
	}
}

// Generate returns the canned reply for message. The message is embedded
// verbatim.
func Generate(message string) string {
	switch Classify(message) {
	case TemplateGreeting:
		return fmt.Sprintf(greetingReply, message)
	case TemplateHelp:
		return fmt.Sprintf(helpReply, message)
	default:
		return fmt.Sprintf(genericReply, message)
	}
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}
