package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"

	"github.com/piggypost/piggypost/pkg/filter"
)

// Req opens or replaces the subscription with the given ID.
type Req struct {
	SubscriptionID string
	Filters        []filter.T
}

var _ E = (*Req)(nil)

func (Req) Label() string { return "REQ" }

func (v *Req) UnmarshalJSON(data []byte) error {
	r := gjson.ParseBytes(data)
	arr := r.Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	if arr[1].Type != gjson.String {
		return fmt.Errorf("subscription id is not a string")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make([]filter.T, len(arr)-2)
	for i, item := range arr[2:] {
		if err := v.Filters[i].UnmarshalJSON([]byte(item.Raw)); err != nil {
			return fmt.Errorf("%w -- on filter %d", err, i)
		}
	}
	return nil
}

func (v Req) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["REQ",`)
	w.String(v.SubscriptionID)
	for _, f := range v.Filters {
		w.RawByte(',')
		f.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	return w.BuildBytes()
}

func (v Req) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
