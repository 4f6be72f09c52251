package tool

import (
	"github.com/mitchellh/mapstructure"
)

// DecodeArgs maps raw tool arguments onto a typed struct using its json tags.
func DecodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           out,
	})

	if err != nil {
		return err
	}

	return decoder.Decode(args)
}
