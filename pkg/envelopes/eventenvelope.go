package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/piggypost/piggypost/pkg/event"
)

// Event frames an event, with the subscription ID present on frames arriving
// from a relay and absent on frames published to it.
type Event struct {
	SubscriptionID *string
	Event          *event.T
}

var _ E = (*Event)(nil)

func (Event) Label() string { return "EVENT" }

func (v *Event) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	switch len(arr) {
	case 2:
		ev, err := event.FromResult(arr[1])
		if err != nil {
			return err
		}
		v.Event = ev
	case 3:
		if arr[1].Type != gjson.String {
			return fmt.Errorf("subscription id is not a string")
		}
		v.SubscriptionID = &arr[1].Str
		ev, err := event.FromResult(arr[2])
		if err != nil {
			return err
		}
		v.Event = ev
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
	return nil
}

func (v Event) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["EVENT",`)
	if v.SubscriptionID != nil {
		w.String(*v.SubscriptionID)
		w.RawByte(',')
	}
	v.Event.MarshalEasyJSON(&w)
	w.RawByte(']')
	return w.BuildBytes()
}

func (v Event) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
