// Package main is the davi device agent: three hardware demos (NFC tag
// reading, smart card ATR retrieval and BLE beacons) that report to one
// status label, shown in the system tray, an interactive console and over
// WebSocket.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
