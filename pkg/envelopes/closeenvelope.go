package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Close cancels the subscription with the given ID.
type Close string

var _ E = (*Close)(nil)

func (Close) Label() string { return "CLOSE" }

func (v *Close) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = Close(arr[1].Str)
	return nil
}

func (v Close) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["CLOSE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

func (v Close) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
