package fields

import (
	"strconv"
	"strings"

	"github.com/agnivade/levenshtein"

	"github.com/Csuarezgurruchaga/artuso-chatbot/internal/models"
)

// ServiceType is one entry of the closed service catalogue.
type ServiceType struct {
	Name  string
	Stems []string
}

// ServiceTypes is the closed set of service types, in menu order.
var ServiceTypes = []ServiceType{
	{Name: "Destapación", Stems: []string{"destap", "tapad", "cloaca", "desag"}},
	{Name: "Plomería", Stems: []string{"plom", "caner", "cañer", "perdida", "agua", "canilla"}},
	{Name: "Electricidad", Stems: []string{"electr", "luz", "enchuf", "tension"}},
	{Name: "Gas", Stems: []string{"gas", "estufa", "calefon", "termotanque"}},
	{Name: "Albañilería", Stems: []string{"albañ", "alban", "pared", "humedad", "revoque"}},
	{Name: "Pintura", Stems: []string{"pint"}},
	{Name: "Cerrajería", Stems: []string{"cerraj", "cerradura", "llave", "puerta"}},
}

// ServiceTypeNames returns the catalogue names in menu order.
func ServiceTypeNames() []string {
	names := make([]string, len(ServiceTypes))
	for i, st := range ServiceTypes {
		names[i] = st.Name
	}
	return names
}

// MatchServiceType resolves text to a catalogue name. It accepts the menu
// number, the exact name, a keyword stem or a name within edit distance 2,
// all accent and case insensitive. Exact and numeric matches win over
// stems; stems are checked in catalogue order.
func MatchServiceType(text string) (string, bool) {
	n := Normalize(text)
	if n == "" {
		return "", false
	}
	if idx, err := strconv.Atoi(n); err == nil {
		if idx >= 1 && idx <= len(ServiceTypes) {
			return ServiceTypes[idx-1].Name, true
		}
		return "", false
	}
	for _, st := range ServiceTypes {
		if n == Normalize(st.Name) {
			return st.Name, true
		}
	}
	for _, st := range ServiceTypes {
		name := Normalize(st.Name)
		if len(name) < 5 {
			continue
		}
		for _, w := range strings.Fields(n) {
			if len(w) >= 4 && levenshtein.ComputeDistance(w, name) <= 2 {
				return st.Name, true
			}
		}
	}
	for _, st := range ServiceTypes {
		for _, stem := range st.Stems {
			if strings.Contains(n, Normalize(stem)) {
				return st.Name, true
			}
		}
	}
	return "", false
}

func validateServiceType(text string) (string, *ValidationError) {
	name, ok := MatchServiceType(text)
	if !ok {
		return "", &ValidationError{Field: models.FieldServiceType, Reason: "not in catalogue", Message: MsgInvalidService}
	}
	return name, nil
}
