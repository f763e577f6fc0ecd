package fields

import "github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"

// Re-prompt messages.
const (
	MsgGenericInvalid   = "No pude entender ese dato. ¿Podés enviarlo de nuevo?"
	MsgInvalidDate      = "La fecha debe tener el formato dd/mm/aaaa (por ejemplo 05/09/2025), o podés escribir \"hoy\" o \"ayer\"."
	MsgFutureDate       = "La fecha de pago no puede ser futura. Enviala en formato dd/mm/aaaa."
	MsgInvalidAmount    = "El monto debe ser un número, por ejemplo 15000 o 15000,50."
	MsgImplausibleAmt   = "El monto ingresado no parece correcto. Revisalo y envialo de nuevo."
	MsgInvalidAddress   = "Necesito la dirección con calle y altura, por ejemplo \"Av. Corrientes 1234\"."
	MsgInvalidUnit      = "Indicá piso y departamento (por ejemplo \"3B\"), o \"-\" si no corresponde."
	MsgInvalidReceipt   = "Enviá una foto del comprobante o el número de operación. Si no lo tenés, escribí \"omitir\"."
	MsgInvalidComment   = "El comentario es muy corto. Escribí algo más o \"omitir\"."
	MsgInvalidService   = "No reconocí el tipo de servicio. Elegí una opción de la lista o escribí su número."
	MsgInvalidDetail    = "Contame un poco más del problema (al menos 10 caracteres)."
	MsgInvalidAdjunto   = "Enviá la foto o el archivo adjunto."
	MsgLocationQuestion = "La calle \"%s\" existe en CABA y en Provincia de Buenos Aires. ¿A cuál corresponde?\n1. CABA\n2. Provincia de Buenos Aires"
)

var prompts = map[models.FieldKey]string{
	models.FieldPaymentDate: "¿En qué fecha realizaste el pago? (dd/mm/aaaa, \"hoy\" o \"ayer\")",
	models.FieldAmount:      "¿Cuál fue el monto abonado?",
	models.FieldAddress:     "¿Cuál es la dirección del inmueble?",
	models.FieldUnit:        "¿Piso y departamento?",
	models.FieldReceipt:     "Enviá el comprobante (foto o número de operación), o escribí \"omitir\".",
	models.FieldComment:     "¿Querés agregar algún comentario? Si no, escribí \"no\".",
	models.FieldServiceType: "¿Qué tipo de servicio necesitás?",
	models.FieldDetail:      "Describí brevemente el problema.",
	models.FieldAttachment:  "Podés enviar una foto del problema.",
}

var labels = map[models.FieldKey]string{
	models.FieldPaymentDate: "Fecha de pago",
	models.FieldAmount:      "Monto",
	models.FieldAddress:     "Dirección",
	models.FieldUnit:        "Piso/Depto",
	models.FieldReceipt:     "Comprobante",
	models.FieldComment:     "Comentario",
	models.FieldServiceType: "Tipo de servicio",
	models.FieldDetail:      "Detalle",
	models.FieldAttachment:  "Adjunto",
}
