package web

import (
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/sweeney/grow-sensor/internal/logic"
	"github.com/sweeney/grow-sensor/internal/status"
)

var indexTmpl = template.Must(template.New("index").Funcs(template.FuncMap{
	"uptime": func(d time.Duration) string {
		d = d.Truncate(time.Second)
		days := int(d.Hours()) / 24
		h := int(d.Hours()) % 24
		m := int(d.Minutes()) % 60
		s := int(d.Seconds()) % 60
		switch {
		case days > 0:
			return fmt.Sprintf("%dd %dh %dm %ds", days, h, m, s)
		case h > 0:
			return fmt.Sprintf("%dh %dm %ds", h, m, s)
		case m > 0:
			return fmt.Sprintf("%dm %ds", m, s)
		}
		return fmt.Sprintf("%ds", s)
	},
	"stamp": func(t time.Time) string {
		return t.Format(logic.TimestampLayout)
	},
	"ms": func(ms int64) string {
		if ms == 0 {
			return "disabled"
		}
		return (time.Duration(ms) * time.Millisecond).String()
	},
}).Parse(indexHTML))

const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Grow Sensor</title>
<style>
body { font-family: monospace; max-width: 760px; margin: 2em auto; padding: 0 1em; }
h1 { font-size: 1.4em; }
table { border-collapse: collapse; width: 100%; margin: 1em 0; }
td, th { text-align: left; padding: 4px 8px; border-bottom: 1px solid #ddd; }
.anomalies { color: #b00; }
.connected { color: green; }
.disconnected { color: red; }
.live-dot { display: inline-block; width: 8px; height: 8px; border-radius: 50%; margin-left: 6px; vertical-align: middle; }
.live-dot.ok { background: green; }
.live-dot.err { background: red; }
.live-dot.pending { background: orange; }
</style>
</head>
<body>
<h1>Grow Sensor<span id="live-dot" class="live-dot pending" title="connecting"></span></h1>

<h2>Zones</h2>
<table>
<tr><th>Zone</th><th>Time</th><th>Temp °F</th><th>Humidity %</th><th>CO2 ppm</th><th>History</th><th>Anomalies</th></tr>
{{range .Zones}}<tr data-zone="{{.Zone}}">
<td>{{.Zone}}</td>
{{if .HasLatest}}<td class="ts">{{stamp .Latest.Timestamp}}</td><td class="temperature">{{printf "%.1f" .Latest.Temperature}}</td><td class="humidity">{{printf "%.1f" .Latest.Humidity}}</td><td class="co2">{{.Latest.CO2}}</td>
{{else}}<td class="ts">-</td><td class="temperature">-</td><td class="humidity">-</td><td class="co2">-</td>
{{end}}<td>{{.HistoryLen}}</td>
<td{{if .Anomalies}} class="anomalies"{{end}}>{{.Anomalies}}</td>
</tr>
{{end}}</table>

<h2>Feed</h2>
<table>
<tr><th>Ready</th><td>{{if .Ready}}yes{{else}}no{{end}}</td></tr>
<tr><th>Ticks</th><td>{{.Ticks}}</td></tr>
<tr><th>Tick</th><td>{{ms .Config.TickMs}}</td></tr>
<tr><th>Upstream</th><td>{{.Config.Upstream}}</td></tr>
<tr><th>Relay sessions</th><td>{{.ActiveSessions}} active, {{.TotalSessions}} total</td></tr>
</table>

<h2>Connectivity</h2>
<table>
<tr><th>MQTT</th><td class="{{if .MQTTConnected}}connected{{else}}disconnected{{end}}">{{if .MQTTConnected}}connected{{else}}disconnected{{end}}</td></tr>
<tr><th>Broker</th><td>{{if .Config.Broker}}{{.Config.Broker}}{{else}}disabled{{end}}</td></tr>
<tr><th>InfluxDB</th><td>{{if .Config.InfluxURL}}{{.Config.InfluxURL}}{{else}}disabled{{end}}</td></tr>
</table>

<h2>System</h2>
<table>
<tr><th>Uptime</th><td>{{uptime .Uptime}}</td></tr>
<tr><th>Started</th><td>{{.StartTime.UTC.Format "2006-01-02T15:04:05Z"}}</td></tr>
<tr><th>Heartbeat</th><td>{{ms .Config.HeartbeatMs}}</td></tr>
<tr><th>Insight refresh</th><td>{{ms .Config.InsightMs}}</td></tr>
<tr><th>HTTP</th><td>{{.Config.HTTPAddr}}</td></tr>
</table>

<p><a href="/index.json">JSON</a> · <a href="/metrics">metrics</a></p>
<script>
(function() {
  var dot = document.getElementById("live-dot");
  function setDot(cls, title) {
    dot.className = "live-dot " + cls;
    dot.title = title;
  }
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "/ws");
  ws.onopen = function() { setDot("ok", "live"); };
  ws.onclose = function() { setDot("err", "closed"); };
  ws.onerror = function() { setDot("err", "error"); };
  ws.onmessage = function(ev) {
    try {
      var msg = JSON.parse(ev.data);
      if (!Array.isArray(msg)) {
        setDot("err", msg.error || "error");
        return;
      }
      msg.forEach(function(r) {
        var row = document.querySelector('tr[data-zone="' + r.zone + '"]');
        if (!row) return;
        row.querySelector(".ts").textContent = r.timestamp;
        row.querySelector(".temperature").textContent = r.temperature.toFixed(1);
        row.querySelector(".humidity").textContent = r.humidity.toFixed(1);
        row.querySelector(".co2").textContent = r.CO2;
      });
    } catch (e) {}
  };
})();
</script>
</body>
</html>
`

func renderHTML(w io.Writer, snap status.Snapshot) error {
	// Snapshot has Uptime() and Ready() methods but the template needs fields.
	data := struct {
		status.Snapshot
		Uptime time.Duration
		Ready  bool
	}{
		Snapshot: snap,
		Uptime:   snap.Uptime(),
		Ready:    snap.Ready(),
	}
	return indexTmpl.Execute(w, data)
}
