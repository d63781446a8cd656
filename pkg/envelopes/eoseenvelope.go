package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// EOSE marks the end of stored events for a subscription; everything after
// it arrives in real time.
type EOSE string

var _ E = (*EOSE)(nil)

func (EOSE) Label() string { return "EOSE" }

func (v *EOSE) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSE(arr[1].Str)
	return nil
}

func (v EOSE) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EOSE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

func (v EOSE) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
