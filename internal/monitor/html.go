package monitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Live Detection</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; }
        .app { max-width: 960px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 10px; background: #444; font-size: 13px; }
        .badge.streaming { background: #32CD32; color: #000; }
        .controls { margin: 12px 0; display: flex; gap: 8px; }
        button { padding: 8px 18px; font-size: 15px; cursor: pointer; }
        button:disabled { cursor: default; opacity: 0.5; }
        #canvas { width: 100%; background: #000; display: block; }
        #alert { display: none; margin: 8px 0; padding: 8px; background: #8b0000; border-radius: 4px; }
        table { margin-top: 12px; border-collapse: collapse; font-size: 13px; }
        td { padding: 2px 12px 2px 0; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h2>Live Detection</h2>
            <span class="badge" id="status-badge">idle</span>
        </div>
        <div class="controls">
            <button type="button" id="btn-start">Start Camera</button>
            <button type="button" id="btn-stop" disabled>Stop Camera</button>
        </div>
        <div id="alert"></div>
        <img id="canvas" src="/stream" alt="detection canvas">
        <table>
            <tr><td>Session</td><td id="st-session">-</td></tr>
            <tr><td>Camera</td><td id="st-camera">-</td></tr>
            <tr><td>Endpoint</td><td id="st-endpoint">-</td></tr>
            <tr><td>Connected</td><td id="st-connected">-</td></tr>
            <tr><td>Frames sent</td><td id="st-sent">0</td></tr>
            <tr><td>Frames dropped</td><td id="st-dropped">0</td></tr>
            <tr><td>Results</td><td id="st-results">0</td></tr>
            <tr><td>Malformed</td><td id="st-malformed">0</td></tr>
            <tr><td>Last error</td><td id="st-error">-</td></tr>
        </table>
    </div>
    <script>
        const startBtn = document.getElementById('btn-start');
        const stopBtn = document.getElementById('btn-stop');
        const alertBox = document.getElementById('alert');
        let lastAlert = null;

        function showAlert(msg) {
            alertBox.textContent = msg;
            alertBox.style.display = 'block';
        }

        async function post(path) {
            const res = await fetch(path, { method: 'POST' });
            const body = await res.json().catch(() => ({}));
            if (!res.ok) {
                showAlert(body.error || ('request failed: ' + res.status));
                return null;
            }
            alertBox.style.display = 'none';
            return body;
        }

        function render(payload) {
            const s = payload.session || {};
            const streaming = s.state === 'streaming';
            const badge = document.getElementById('status-badge');
            badge.textContent = s.state || 'idle';
            badge.className = streaming ? 'badge streaming' : 'badge';
            startBtn.disabled = streaming;
            stopBtn.disabled = !streaming;
            document.getElementById('st-session').textContent = s.session_id || '-';
            document.getElementById('st-camera').textContent = s.camera || '-';
            document.getElementById('st-endpoint').textContent = s.endpoint || '-';
            document.getElementById('st-connected').textContent = s.connected ? 'yes' : 'no';
            document.getElementById('st-sent').textContent = s.frames_sent || 0;
            document.getElementById('st-dropped').textContent = s.frames_dropped || 0;
            document.getElementById('st-results').textContent = s.results || 0;
            document.getElementById('st-malformed').textContent = s.malformed || 0;
            document.getElementById('st-error').textContent = s.last_error || '-';

            const alerts = payload.alerts || [];
            const newest = alerts.length > 0 ? alerts[alerts.length - 1].at : '';
            if (lastAlert !== null && newest !== lastAlert) {
                showAlert(alerts[alerts.length - 1].message);
            }
            lastAlert = newest;
        }

        startBtn.addEventListener('click', async () => {
            startBtn.disabled = true;
            const body = await post('/api/start');
            if (body) render(body); else startBtn.disabled = false;
        });
        stopBtn.addEventListener('click', async () => {
            const body = await post('/api/stop');
            if (body) render(body);
        });

        const events = new EventSource('/api/status/stream');
        events.onmessage = (ev) => render(JSON.parse(ev.data));
    </script>
</body>
</html>
`
