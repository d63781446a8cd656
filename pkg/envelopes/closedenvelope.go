package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Closed is sent by the relay when it ends a subscription on its own
// initiative, carrying a human readable reason.
type Closed struct {
	SubscriptionID string
	Reason         string
}

var _ E = (*Closed)(nil)

func (Closed) Label() string { return "CLOSED" }

func (v *Closed) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Reason = arr[2].Str
	return nil
}

func (v Closed) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["CLOSED",`)
	w.String(v.SubscriptionID)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

func (v Closed) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
