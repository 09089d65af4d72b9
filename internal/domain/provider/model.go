package provider

import (
	"encoding/json"
	"fmt"

	"github.com/ehr/ehrlogin/internal/domain/location"
)

// Provider maps to the backend provider resource: the clinical-staff record
// linked to a user through its person.
type Provider struct {
	UUID       string        `json:"uuid"`
	Display    string        `json:"display,omitempty"`
	Person     *location.Ref `json:"person,omitempty"`
	Attributes []Attribute   `json:"attributes,omitempty"`
}

type AttributeType struct {
	UUID    string `json:"uuid"`
	Display string `json:"display,omitempty"`
}

// Attribute is one provider attribute. For the default-location type its
// value references a location.
type Attribute struct {
	UUID          string         `json:"uuid,omitempty"`
	AttributeType AttributeType  `json:"attributeType"`
	Value         AttributeValue `json:"value"`
	Voided        bool           `json:"voided,omitempty"`
}

// AttributeValue decodes either a bare uuid string or a {uuid, display}
// object; the backend returns one or the other depending on the datatype
// handler of the attribute type.
type AttributeValue struct {
	location.Ref
}

func (v *AttributeValue) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*v = AttributeValue{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = AttributeValue{Ref: location.Ref{UUID: s}}
		return nil
	}
	var ref location.Ref
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("decode attribute value: %w", err)
	}
	v.Ref = ref
	return nil
}

// Resolution is what the resolver learned about a user's default location.
// Empty fields mean "absent".
type Resolution struct {
	ProviderUUID          string `json:"provider_uuid"`
	ExistingAttributeUUID string `json:"existing_attribute_uuid,omitempty"`
	LocationUUID          string `json:"location_uuid,omitempty"`
	LocationDisplay       string `json:"location_display,omitempty"`
}

// HasProvider reports whether a provider record is linked to the user.
func (r *Resolution) HasProvider() bool {
	return r != nil && r.ProviderUUID != ""
}

// HasLocation reports whether a usable default location was found.
func (r *Resolution) HasLocation() bool {
	return r != nil && r.LocationUUID != ""
}
