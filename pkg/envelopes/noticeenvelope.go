package envelopes

import (
	"fmt"

	"github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// Notice is a human readable message from the relay.
type Notice string

var _ E = (*Notice)(nil)

func (Notice) Label() string { return "NOTICE" }

func (v *Notice) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 2 || arr[1].Type != gjson.String {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = Notice(arr[1].Str)
	return nil
}

func (v Notice) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	w.RawString(`["NOTICE",`)
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

func (v Notice) String() string {
	b, _ := v.MarshalJSON()
	return string(b)
}
