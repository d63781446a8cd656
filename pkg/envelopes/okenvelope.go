package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// OK acknowledges a published event, with a reason on rejection.
type OK struct {
	EventID string
	OK      bool
	Reason  string
}

var _ E = (*OK)(nil)

func (OK) Label() string { return "OK" }

func (v *OK) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode OK envelope")
	}
	v.EventID = arr[1].Str
	v.OK = arr[2].Bool()
	if len(arr) > 3 {
		v.Reason = arr[3].Str
	}
	return nil
}

func (v OK) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["OK",`)
	w.String(v.EventID)
	w.RawByte(',')
	w.Bool(v.OK)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

func (v OK) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
