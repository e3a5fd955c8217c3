package livereload

import (
	"fmt"
	"strings"
)

const scriptTemplate = `<script>
(function () {
  var scheme = location.protocol === "https:" ? "wss:" : "ws:";
  var socket = new WebSocket(scheme + "//" + location.host + %q);
  socket.onmessage = function (event) {
    var message = JSON.parse(event.data);
    if (message.type === "reload") {
      location.reload();
    }
  };
})();
</script>
`

// Script returns the client snippet that connects to endpoint.
func Script(endpoint string) string {
	return fmt.Sprintf(scriptTemplate, endpoint)
}

// InjectScript places the client snippet right before the last </body>.
// Pages without a body tag get it appended.
func InjectScript(page, endpoint string) string {
	script := Script(endpoint)
	idx := strings.LastIndex(strings.ToLower(page), "</body>")
	if idx < 0 {
		return page + script
	}
	return page[:idx] + script + page[idx:]
}
