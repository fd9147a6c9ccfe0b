package main

import (
	"fmt"
	"net/http"
)

var (
	Version   = "dev" // default fallback
	Commit    = "none"
	BuildTime = "unknown"
)

func landingPageHandler(w http.ResponseWriter, r *http.Request) {
	info := fmt.Sprintf(`
		<!DOCTYPE html>
		<html>
		<head><title>Race Control</title></head>
		<body>
			<h1>Race Control Caution Supervisor</h1>
			<p><strong>Version:</strong> %s</p>
			<p><strong>Commit:</strong> %s</p>
			<p><strong>Build Time:</strong> %s</p>
			<p>Live state at <a href="/status">/status</a>.</p>
		</body>
		</html>`, Version, Commit, BuildTime)
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(info))
}
