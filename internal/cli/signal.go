package cli

import (
	"os"
	"os/signal"
)

// notifyInterrupt relays Ctrl-C to ch until the returned stop is called.
var notifyInterrupt = func(ch chan<- os.Signal) func() {
	signal.Notify(ch, os.Interrupt)
	return func() { signal.Stop(ch) }
}
