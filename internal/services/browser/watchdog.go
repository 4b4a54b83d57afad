package browser

import (
	"fmt"
	"strings"
	"time"
)

// WatchdogScript returns a script that stops page loading once the document
// has been alive for d. It is installed on every new document.
func WatchdogScript(d time.Duration) string {
	seconds := int(d / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return fmt.Sprintf(`(function() {
	var counter = 0;
	var interval = setInterval(function() {
		counter++;
		if (counter === %d) {
			clearInterval(interval);
			window.stop();
		}
	}, 1000);
})();`, seconds)
}

// splitFlag turns "--name=value" or "name" into a chromedp flag pair
func splitFlag(flag string) (string, interface{}) {
	flag = strings.TrimLeft(strings.TrimSpace(flag), "-")
	if name, value, ok := strings.Cut(flag, "="); ok {
		return name, value
	}
	return flag, true
}
