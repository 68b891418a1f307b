package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ConsoleHandler serves the embedded xterm.js console so a browser can
// attach to a session without a separate frontend.
type ConsoleHandler struct{}

// NewConsoleHandler creates a new console handler.
func NewConsoleHandler() *ConsoleHandler {
	return &ConsoleHandler{}
}

// HandleConsolePage renders the console for the session id in the path.
func (h *ConsoleHandler) HandleConsolePage(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, consoleHTML)
}

const consoleHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Session Console</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/css/xterm.css">
    <style>
        * { margin: 0; padding: 0; box-sizing: border-box; }
        html, body { height: 100%; width: 100%; overflow: hidden; background: #1a1b26; }
        #terminal { height: 100%; width: 100%; }
        .xterm { height: 100%; padding: 8px; }
        #status {
            position: fixed;
            top: 8px;
            right: 8px;
            padding: 4px 12px;
            border-radius: 4px;
            font-family: monospace;
            font-size: 12px;
            z-index: 1000;
        }
        .status-connecting { background: #e0af68; color: #1a1b26; }
        .status-connected { background: #9ece6a; color: #1a1b26; opacity: 0; }
        .status-closed { background: #f7768e; color: #1a1b26; }
    </style>
</head>
<body>
    <div id="status" class="status-connecting">Connecting...</div>
    <div id="terminal"></div>

    <script src="https://cdn.jsdelivr.net/npm/@xterm/xterm@5.5.0/lib/xterm.min.js"></script>
    <script src="https://cdn.jsdelivr.net/npm/@xterm/addon-fit@0.10.0/lib/addon-fit.min.js"></script>
    <script>
        const statusEl = document.getElementById('status');

        function setStatus(status, text) {
            statusEl.className = 'status-' + status;
            statusEl.textContent = text;
        }

        const term = new Terminal({
            cursorBlink: true,
            fontSize: 14,
            fontFamily: 'Menlo, Monaco, "Courier New", monospace',
            theme: { background: '#1a1b26', foreground: '#c0caf5' }
        });
        const fitAddon = new FitAddon.FitAddon();
        term.loadAddon(fitAddon);
        term.open(document.getElementById('terminal'));
        fitAddon.fit();

        // Session id is the last segment of /console/<id>.
        const segments = window.location.pathname.split('/').filter(Boolean);
        const sessionId = segments[segments.length - 1];
        if (!sessionId || sessionId === 'console') {
            term.write('No session id. Open /console/<session_id>.\r\n');
        } else {
            const protocol = window.location.protocol === 'https:' ? 'wss:' : 'ws:';
            const ws = new WebSocket(protocol + '//' + window.location.host + '/ws/sessions/' + sessionId);
            let pingTimer = null;

            ws.onopen = function() {
                setStatus('connected', 'Connected');
                term.focus();
                pingTimer = setInterval(function() {
                    ws.send(JSON.stringify({ type: 'ping' }));
                }, 30000);
            };

            ws.onmessage = function(event) {
                const msg = JSON.parse(event.data);
                if (msg.type === 'output') {
                    term.write(msg.data);
                }
            };

            ws.onclose = function(event) {
                if (pingTimer) clearInterval(pingTimer);
                if (event.code === 4404) {
                    setStatus('closed', 'Unknown session');
                    term.write('\r\nSession not found.\r\n');
                } else {
                    setStatus('closed', 'Disconnected');
                }
            };

            term.onData(function(data) {
                if (ws.readyState === WebSocket.OPEN) {
                    ws.send(JSON.stringify({ type: 'input', data: data }));
                }
            });
        }
    </script>
</body>
</html>`
