package mainboilerplate

// Version and BuildDate of the program, set at link time, eg:
//
//	go build -ldflags "-X go.jsonbdoc.dev/core/mainboilerplate.Version=v1.2.3"
var (
	Version   = "development"
	BuildDate = "unknown"
)
