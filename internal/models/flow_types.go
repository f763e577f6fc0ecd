// Package models defines flow type definitions to avoid circular imports.
package models

// State represents a conversation state in the support flow.
type State string

// Intent represents the request a client chose from the menu.
type Intent string

// FieldKey identifies a user-visible field collected for an intent.
type FieldKey string

// Sender identifies who authored a history entry.
type Sender string

// State constants for the support flow.
const (
	StateStart                 State = "START"
	StateAwaitingIntent        State = "AWAITING_INTENT"
	StateCollectingSequential  State = "COLLECTING_SEQUENTIAL"
	StateSelectingAddress      State = "SELECTING_ADDRESS"
	StateValidatingLocation    State = "VALIDATING_LOCATION"
	StateConfirming            State = "CONFIRMING"
	StateCorrecting            State = "CORRECTING"
	StateCorrectingField       State = "CORRECTING_FIELD"
	StateSending               State = "SENDING"
	StateReplacingSavedAddress State = "REPLACING_SAVED_ADDRESS"
	StateFinished              State = "FINISHED"
	StateAttendedByHuman       State = "ATTENDED_BY_HUMAN"
	StateSurveyOffered         State = "SURVEY_OFFERED"
	StateSurveyInProgress      State = "SURVEY_IN_PROGRESS"
)

// IsTerminal reports whether interrupts are no longer detected in this state.
func (s State) IsTerminal() bool {
	switch s {
	case StateFinished, StateAttendedByHuman, StateSurveyOffered, StateSurveyInProgress:
		return true
	}
	return false
}

// Intent constants, in menu order.
const (
	IntentNone                Intent = ""
	IntentPaymentRegistration Intent = "PAYMENT_REGISTRATION"
	IntentServiceRequest      Intent = "SERVICE_REQUEST"
	IntentEmergency           Intent = "EMERGENCY"
)

// MenuIntents lists the intents in the order they are offered to the client.
var MenuIntents = []Intent{IntentPaymentRegistration, IntentServiceRequest, IntentEmergency}

// Field key constants.
const (
	FieldPaymentDate FieldKey = "fecha_pago"
	FieldAmount      FieldKey = "monto"
	FieldAddress     FieldKey = "direccion"
	FieldUnit        FieldKey = "piso_depto"
	FieldReceipt     FieldKey = "comprobante"
	FieldComment     FieldKey = "comentario"
	FieldServiceType FieldKey = "tipo_servicio"
	FieldDetail      FieldKey = "detalle"
	FieldAttachment  FieldKey = "adjunto"
)

// History senders.
const (
	SenderClient Sender = "client"
	SenderAgent  Sender = "agent"
	SenderSystem Sender = "system"
)

var fieldOrders = map[Intent][]FieldKey{
	IntentPaymentRegistration: {FieldPaymentDate, FieldAmount, FieldAddress, FieldUnit, FieldReceipt, FieldComment},
	IntentServiceRequest:      {FieldServiceType, FieldAddress, FieldDetail, FieldAttachment},
}

var lastFields = map[Intent]FieldKey{
	IntentPaymentRegistration: FieldComment,
	IntentServiceRequest:      FieldDetail,
}

// FieldOrder returns a copy of the fixed field order for an intent.
// Emergency and unknown intents have no fields.
func FieldOrder(intent Intent) []FieldKey {
	order := fieldOrders[intent]
	out := make([]FieldKey, len(order))
	copy(out, order)
	return out
}

// LastField returns the terminal field of an intent, or "" when it has none.
func LastField(intent Intent) FieldKey {
	return lastFields[intent]
}

// InOrder reports whether key belongs to the field order of intent.
func InOrder(intent Intent, key FieldKey) bool {
	for _, k := range fieldOrders[intent] {
		if k == key {
			return true
		}
	}
	return false
}

// RequiredFields returns the fields up to and including the intent's last field.
func RequiredFields(intent Intent) []FieldKey {
	last := LastField(intent)
	var out []FieldKey
	for _, k := range fieldOrders[intent] {
		out = append(out, k)
		if k == last {
			break
		}
	}
	return out
}

// FrictionKind classifies a moment where the client struggled with the flow.
type FrictionKind string

// Friction kinds reported to the auditor.
const (
	FrictionValidationRepeat FrictionKind = "validation_repeat"
	FrictionUnclearIntent    FrictionKind = "unclear_intent"
	FrictionSendFailed       FrictionKind = "send_failed"
	FrictionActionFailed     FrictionKind = "action_failed"
	FrictionException        FrictionKind = "exception"
)
