package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/overtemp/internal/logic"
	"github.com/sweeney/overtemp/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		if days > 0 {
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		}
		if h > 0 {
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		}
		if m > 0 {
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stateClass": stateClass,
}).Parse(indexHTML))

// stateClass maps a channel state to a CSS class.
func stateClass(s logic.State) string {
	switch s {
	case logic.StateNormal:
		return "normal"
	case logic.StateHoldOff:
		return "holdoff"
	case logic.StateBackOff, logic.StateExtendedBackOff:
		return "backoff"
	case logic.StateRequestPaOff, logic.StateRequestShutdown:
		return "critical"
	}
	return "unknown"
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>PA Over-Temperature</title>
<style>
body { font-family: monospace; max-width: 720px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.normal { color: green; font-weight: bold; }
.holdoff { color: #b8860b; font-weight: bold; }
.backoff { color: orange; font-weight: bold; }
.critical { color: red; font-weight: bold; }
.unknown { color: #888; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>PA Over-Temperature{{if .Config.WSBroker}}<span id="live-dot" class="live-dot pending" title="connecting"></span>{{end}}</h1>

<h2>Channels</h2>
{{if .Ready}}<table>
<tr><th>Channel</th><th>State</th><th>Backoff</th><th>Sensors</th></tr>
{{range .Channels}}<tr>
<td>{{.ID}}</td>
<td id="ch-state-{{.ID}}" class="{{stateClass .State}}">{{.State}}</td>
<td>{{printf "%.2f" .Backoff}} dB</td>
<td>{{range .Sensors}}{{.Type}} {{printf "%.1f" .Temperature}}&deg;C{{if .Active}} ({{.Stage}} {{printf "%.2f" .PBO}} dB){{end}}<br>{{else}}none{{end}}</td>
</tr>
{{end}}</table>{{else}}<p class="unknown">waiting for first tick</p>{{end}}
{{if .ShutdownRequested}}<p class="critical">Shutdown requested</p>{{end}}

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{.Config.Broker}}</td></tr>
{{if .Network}}<tr><th>Network</th><td>{{.Network.Status}} ({{.Network.Type}}{{if .Network.SSID}}, {{.Network.SSID}}{{end}})</td></tr>
<tr><th>IP</th><td>{{.Network.IP}}</td></tr>{{end}}
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Ticks</th><td>{{.Ticks}}</td></tr>
<tr><th>Period</th><td>{{.Config.Period}}</td></tr>
<tr><th>Heartbeat</th><td>{{if eq .Config.Heartbeat 0}}disabled{{else}}{{.Config.Heartbeat}}{{end}}</td></tr>
<tr><th>Config</th><td>{{.Config.ConfigSource}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPPort}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> <a href="/backoff">Backoff</a> <a href="/metrics">Metrics</a></p>
{{if .Config.WSBroker}}
<script src="/mqtt.min.js"></script>
<script>
(function() {
  var broker = "{{.Config.WSBroker}}";
  var topic = "overtemp/transition";
  var dot = document.getElementById("live-dot");
  var classes = {
    NORMAL: "normal", HOLD_OFF: "holdoff", BACK_OFF: "backoff",
    EXTENDED_BACK_OFF: "backoff", REQUEST_PA_OFF: "critical", REQUEST_SHUTDOWN: "critical"
  };

  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }

  var client = mqtt.connect(broker, { reconnectPeriod: 5000 });

  client.on("connect", function() {
    setDot("ok", "live");
    client.subscribe(topic);
  });

  client.on("reconnect", function() {
    setDot("pending", "reconnecting");
  });

  client.on("offline", function() {
    setDot("err", "offline");
  });

  client.on("error", function() {
    setDot("err", "error");
  });

  client.on("message", function(t, payload) {
    try {
      var msg = JSON.parse(payload.toString());
      if (msg.transition) {
        var el = document.getElementById("ch-state-" + msg.transition.channel);
        if (el) {
          el.textContent = msg.transition.to;
          el.className = classes[msg.transition.to] || "unknown";
        }
      }
    } catch (e) {}
  });
})();
</script>
{{end}}
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) {
	// Snapshot has Uptime() method but template needs a Duration field.
	data := struct {
		status.Snapshot
		Uptime time.Duration
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
	}
	indexTmpl.Execute(w, data)
}
