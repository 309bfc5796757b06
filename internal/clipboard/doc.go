// Package clipboard shares the host clipboard with a dev container.
//
// The bridge listens on a host port taken from the session range and
// registered with the forward controller, so it shows up in `port ls` and
// goes away with the session. Inside the container the endpoint URL is
// written to a well-known file (default /tmp/berth-clipboard):
//
//	curl -s "$(cat /tmp/berth-clipboard)"                  # paste
//	printf %s "$text" | curl -s --data-binary @- "$(...)"  # copy
//
// Only loopback clients and the container's own addresses are served.
package clipboard
