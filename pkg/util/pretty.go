package util

import (
	"io"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/tidwall/pretty"
)

// PrettyPrint writes an indented and, when colored is set, highlighted JSON form of val
func PrettyPrint(w io.Writer, colored bool, val interface{}) error {
	buf, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(val)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value")
	}

	buf = pretty.Pretty(buf)
	if colored {
		buf = pretty.Color(buf, nil)
	}

	_, err = w.Write(buf)

	return err
}
