package codec

import (
	"fmt"
	"io"
	"net/http"

	"github.com/kvstore-labs/nosql-go-sdk/nosqlerr"
)

// Dispatch classifies an HTTP response by status code and, on success,
// delegates body decoding to deserializer. See spec §4.5: 200 with status
// byte 0 is success; 200 with a non-zero byte demuxes to a typed exception
// via the error code table; 400 treats the body as a plain-text error
// message; any other status is a terminal generic error.
func Dispatch(statusCode int, reasonPhrase string, body io.Reader, deserializer Deserializer) (*DecodedPayload, error) {
	switch statusCode {
	case http.StatusOK:
		r := NewReader(body)
		code, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("codec: reading response status byte: %w", err)
		}
		if code == 0 {
			return deserializer.Deserialize(r, SerialVersion)
		}
		msg, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("codec: reading error message: %w", err)
		}
		return nil, nosqlerr.FromWire(int32(code), msg)

	case http.StatusBadRequest:
		raw, _ := io.ReadAll(body)
		msg := string(raw)
		if msg == "" {
			msg = reasonPhrase
		}
		return nil, nosqlerr.New(nosqlerr.CodeServerError, "Error response: "+msg)

	default:
		return nil, nosqlerr.New(nosqlerr.CodeServerError,
			fmt.Sprintf("Error response = %d, reason = %s", statusCode, reasonPhrase))
	}
}
