package flow

import "github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"

// Defaults for the configurable texts.
const (
	defaultCompanyName    = "Administración Artuso"
	defaultContactInfo    = "Podés comunicarte con la administración de lunes a viernes de 9 a 18 hs por este mismo chat o por mail a administracion@artuso.com.ar."
	defaultEmergencyPhone = "(011) 4000-0000"
)

// Client-facing texts.
const (
	msgGreeting        = "¡Hola%s! Soy el asistente virtual de %s."
	msgHours           = "Atendemos de lunes a viernes de 9 a 18 hs. Fuera de ese horario registramos tu pedido y te respondemos a la brevedad."
	msgMenu            = "¿En qué te puedo ayudar? Elegí una opción:"
	msgUnclear         = "No entendí tu consulta."
	msgMediaHeld       = "Recibí tu archivo y lo voy a sumar a tu pedido."
	msgMediaReceived   = "Recibí tu archivo."
	msgPaymentIntro    = "Perfecto, vamos a registrar tu pago."
	msgServiceIntro    = "Perfecto, vamos a registrar tu pedido de servicio."
	msgEmergency       = "Si hay riesgo para las personas llamá al 911. Para emergencias del edificio comunicate al %s. Ya le avisamos a una persona del equipo para que te contacte por este medio."
	msgHandoffStarted  = "Te comunico con una persona del equipo. Aguardá un momento, por favor."
	msgNoAgent         = "En este momento no hay operadores disponibles por este medio."
	msgQueuePosition   = "Estás en la posición %d de la fila. Te atendemos enseguida."
	msgStillQueued     = "Tu consulta sigue en espera (posición %d). Una persona del equipo te va a responder en breve."
	msgAgentJoined     = "Una persona del equipo ya está con vos. Podés escribir tu consulta."
	msgHandoffClosed   = "La conversación con el equipo finalizó. ¡Gracias por comunicarte!"
	msgHandoffExpired  = "Cerramos la conversación por inactividad. Si necesitás algo más, escribinos de nuevo."
	msgIdleClosed      = "Cerramos tu consulta por inactividad. Cuando quieras podés empezar de nuevo."
	msgSummaryHeader   = "Revisá los datos:"
	msgConfirmQuestion = "¿Son correctos?"
	msgConfirmHelp     = "Respondé \"sí\" para confirmar o \"no\" para corregir algún dato."
	msgCorrectionMenu  = "¿Qué dato querés corregir?"
	msgChooseField     = "No reconocí ese dato."
	msgProcessing      = "Estamos registrando tu pedido..."
	msgStillProcessing = "Tu pedido se está procesando, aguardá un momento."
	msgRetrying        = "Vuelvo a intentar registrar tu pedido..."
	msgTryLater        = "No pudimos registrar tu pedido en este momento. Escribí cualquier mensaje en unos minutos para reintentar."
	msgPaymentDone     = "¡Listo! Registramos tu pago. Gracias."
	msgServiceDone     = "¡Listo! Registramos tu pedido de servicio. Te vamos a contactar a la brevedad."
	msgSavedAddresses  = "Tenés direcciones guardadas. ¿Usamos alguna?"
	msgChooseAddress   = "Elegí una de las opciones."
	msgAddressLimit    = "Ya tenés %d direcciones guardadas. ¿Querés reemplazar alguna por \"%s\"?"
	msgAddressReplaced = "Guardamos la nueva dirección."
	msgAddressNotSaved = "Perfecto, no guardamos la dirección."
	msgLocationRetry   = "Respondé 1 para CABA o 2 para Provincia de Buenos Aires."
	msgApology         = "Perdón, tuvimos un problema procesando tu mensaje. Probá de nuevo en unos minutos."
	msgSurveyOffer     = "¿Nos ayudás respondiendo una breve encuesta de satisfacción?"
	msgSurveyScoreHelp = "Respondé con un número del 1 al 5."
	msgSurveyThanks    = "¡Gracias por tus respuestas!"
	msgSurveyDeclined  = "Entendido. ¡Gracias por comunicarte!"
	msgOptIn           = "Para seguir la conversación por este medio necesitamos que respondas este mensaje."
	msgEmptyValue      = "(sin dato)"
	msgAttachmentValue = "recibido"
)

// Agent-facing texts.
const (
	msgAgentActivated      = "Conversación activa: %s\nMotivo: %s"
	msgAgentNewInQueue     = "Nueva conversación en espera: %s (posición %d)."
	msgAgentNoActive       = "No hay ninguna conversación activa."
	msgAgentQueueEmpty     = "No hay más conversaciones en espera."
	msgAgentQueueHeader    = "Conversaciones en espera:"
	msgAgentClosed         = "Conversación con %s cerrada."
	msgAgentSingleEntry    = "Solo hay una conversación en la cola (%s); sigue activa."
	msgAgentMovedBack      = "%s pasó al final de la cola."
	msgAgentDeliveryFailed = "No se pudo entregar el mensaje a %s."
	msgAgentExpired        = "La conversación con %s se cerró por inactividad."
	msgAgentOptInSent      = "Pedido de consentimiento enviado a %s."
	msgAgentClientSays     = "%s: %s"
	msgAgentNoHistory      = "Sin mensajes registrados."
	msgAgentHelpFooter     = "Escribí /ayuda para ver los comandos."
)

// surveyQuestions are asked in order; each expects a score from 1 to 5.
var surveyQuestions = []string{
	"Del 1 al 5, ¿cómo calificarías la atención recibida?",
	"Del 1 al 5, ¿qué tan rápido resolvimos tu consulta?",
	"Del 1 al 5, ¿qué tan probable es que nos recomiendes?",
}

const maxSurveyScore = 5

var menuButtons = []models.Button{
	{ID: "menu_payment", Title: "Informar pago"},
	{ID: "menu_service", Title: "Pedir servicio"},
	{ID: "menu_emergency", Title: "Emergencia"},
}

var confirmButtons = []models.Button{
	{ID: "confirm_yes", Title: "Confirmar"},
	{ID: "confirm_no", Title: "Corregir"},
}

var surveyButtons = []models.Button{
	{ID: "survey_yes", Title: "Sí"},
	{ID: "survey_no", Title: "No, gracias"},
}
