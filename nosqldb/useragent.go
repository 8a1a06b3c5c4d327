package nosqldb

import (
	"fmt"
	"runtime"
	"sync"
)

const sdkVersion = "1.0.0"

var (
	userAgentOnce sync.Once
	userAgent     string
)

// buildUserAgent computes the process-wide User-Agent string once. The SDK
// tag ("Go") is specific to this rewrite; the Java driver's equivalent uses
// its own tag in the same template.
func buildUserAgent() string {
	userAgentOnce.Do(func() {
		userAgent = fmt.Sprintf("NoSQL-Go/%s (%s/%s; %s/go)",
			sdkVersion, runtime.GOOS, runtime.GOARCH, runtime.Version())
	})
	return userAgent
}
