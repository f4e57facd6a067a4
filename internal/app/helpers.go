// internal/app/helpers.go
package app

import (
	"log"
	"strings"
)

// NormalizeLocalViewer ensures the viewer only binds to localhost
// and returns listen addr and browser URL.
func NormalizeLocalViewer(cfgAddr string) (listenAddr string, url string) {
	a := strings.TrimSpace(cfgAddr)

	if strings.HasPrefix(a, ":") {
		a = "127.0.0.1" + a
	}
	if strings.HasPrefix(a, "0.0.0.0:") {
		a = "127.0.0.1:" + strings.TrimPrefix(a, "0.0.0.0:")
	}

	listenAddr = a
	url = "http://" + a
	return
}

func logBanner(baseDir, cfgPath string) {
	log.Println("────────────────────────────────────────")
	log.Println("Unlock daemon scope")
	log.Printf(" Data folder : %s", baseDir)
	log.Printf(" Config file : %s", cfgPath)
	log.Println("")
	log.Println(" This process is ONE playback coordinator.")
	log.Println(" The data folder is its boundary.")
	log.Println(" Different folder/config = different state.")
	log.Println("────────────────────────────────────────")
}
