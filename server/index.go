package server

// indexTemplate bootstraps the page: the client websocket, the ele-update loop, and the
// buttons that send operator actions back over the same socket.
const indexTemplate = `<!DOCTYPE html>
<html>
	<head>
		<link rel="icon" href="data:,">
		<title>Tetris training</title>
		<script>
			const ws = new WebSocket((location.protocol === "https:" ? "wss://" : "ws://") + location.host + "/ws");
			ws.onopen = function (event) {
				console.log("Web socket opened")
			};

			ws.onerror = function (event) {
				console.log('WebSocket error: ', event);
			};

			// The meat: when the server pushes view updates, find these eles and update them.
			ws.onmessage = function (event) {
				const items = JSON.parse(event.data)
				for (const update of items) {
					const ele = document.getElementById(update.EleId)
					if (!ele) {
						continue
					}
					for (const op of update.Ops) {
						if (op.Key === "textContent") {
							ele.textContent = op.Value;
						} else {
							ele.setAttribute(op.Key, op.Value)
						}
					}
				}
			}

			function send(action, extra) {
				ws.send(JSON.stringify(Object.assign({action: action}, extra || {})))
			}

			function sendHyperparameters() {
				send("hyperparameters", {
					learning_rate: document.getElementById("learning-rate").value,
					batch_size: document.getElementById("batch-size").value,
					max_epochs: document.getElementById("max-epochs").value,
				})
			}
		</script>
	</head>
	<body>
		<img id="board" width="{{ .Board.Width }}" height="{{ .Board.Height }}" src="data:," alt="board" style="background:#000">
		<div id="progress">
		{{ range .Slots }}
			<div id="{{ .ID }}">{{ .Text }}</div>
		{{ end }}
			<div id="notice-info">{{ .Notice }}</div>
		</div>
		<div id="controls">
			<button id="startTraining" onclick="send('start')">Start Training</button>
			<button id="stopTraining" onclick="send('stop')">Stop Training</button>
			<input id="learning-rate" placeholder="learning rate">
			<input id="batch-size" placeholder="batch size">
			<input id="max-epochs" placeholder="max epochs">
			<button id="updateHyperparameters" onclick="sendHyperparameters()">Update Hyperparameters</button>
		</div>
	</body>
</html>
`
