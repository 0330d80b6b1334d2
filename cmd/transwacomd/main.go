// transwacomd shares evdev input devices from a Host machine onto a
// Consumer machine's uinput layer over the local network.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"transwacom/internal/config"
	"transwacom/internal/devicedetector"
	"transwacom/internal/driverapi"
	"transwacom/internal/faults"
	"transwacom/internal/supervisor"
	"transwacom/internal/tray"
)

const (
	version       = "1.0.0"
	driverAPIAddr = "127.0.0.1:7799"
)

// Exit codes per the daemon's external interface contract.
const (
	exitOK          = 0
	exitFatalConfig = 1
	exitPermission  = 2
	exitPortInUse   = 3
)

var (
	showVersion = flag.Bool("version", false, "Show version")
	listDevices = flag.Bool("list", false, "List local shareable input devices")
	describe    = flag.String("describe", "", "Describe one device by path, e.g. /dev/input/event5")
	share       = flag.String("share", "", "Share a device path with a consumer (use with -address)")
	address     = flag.String("address", "", "host:port of the consumer to share with (with -share)")
	stopID      = flag.String("stop", "", "Stop a running session by ID")
	acceptID    = flag.String("accept", "", "Accept a pending authorization prompt by ID")
	declineID   = flag.String("decline", "", "Decline a pending authorization prompt by ID")
	trustPeer   = flag.Bool("trust", false, "When used with -accept, remember this peer")
	noTray      = flag.Bool("no-tray", false, "Run the daemon without the system tray icon")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("transwacomd version %s\n", version)
		os.Exit(exitOK)
	}

	if *listDevices {
		runList()
		return
	}
	if *describe != "" {
		runDescribe(*describe)
		return
	}
	if *share != "" {
		runControlCommand(map[string]any{"type": "share", "device_path": *share, "address": *address})
		return
	}
	if *stopID != "" {
		runControlCommand(map[string]any{"type": "stop", "session_id": *stopID})
		return
	}
	if *acceptID != "" {
		runControlCommand(map[string]any{"type": "accept", "prompt_id": *acceptID, "trust": *trustPeer})
		return
	}
	if *declineID != "" {
		runControlCommand(map[string]any{"type": "decline", "prompt_id": *declineID})
		return
	}

	runDaemon()
}

func runList() {
	devices, err := devicedetector.Enumerate()
	if err != nil {
		log.Printf("Failed to enumerate devices: %v", err)
		os.Exit(exitFatalConfig)
	}
	for _, d := range devices {
		fmt.Printf("%s\t%s\t%s\n", d.Path, d.Kind, d.DisplayName)
	}
}

func runDescribe(path string) {
	d, err := devicedetector.Describe(path)
	if err != nil {
		log.Printf("Failed to describe %s: %v", path, err)
		os.Exit(exitFatalConfig)
	}
	fmt.Printf("Path:         %s\n", d.Path)
	fmt.Printf("Kind:         %s\n", d.Kind)
	fmt.Printf("DisplayName:  %s\n", d.DisplayName)
	fmt.Printf("VendorID:     %s\n", d.VendorID)
	fmt.Printf("Capabilities: %v\n", d.Capabilities)
	fmt.Printf("Summary:      %v\n", devicedetector.Summarize(d))
	fmt.Printf("Axes:         %v\n", d.Axes)
}

// runControlCommand talks to an already-running daemon's driver API over
// a short-lived WebSocket connection: dial, send one command, print the
// first matching reply, exit.
func runControlCommand(cmd map[string]any) {
	url := "ws://" + driverAPIAddr + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		log.Printf("Could not reach transwacomd at %s: %v", driverAPIAddr, err)
		os.Exit(exitFatalConfig)
	}
	defer conn.Close()

	if err := conn.WriteJSON(cmd); err != nil {
		log.Printf("Failed to send command: %v", err)
		os.Exit(exitFatalConfig)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	wantType, _ := cmd["type"].(string)
	for {
		var resp map[string]any
		if err := conn.ReadJSON(&resp); err != nil {
			log.Printf("No response from daemon: %v", err)
			os.Exit(exitFatalConfig)
		}
		if resp["type"] == wantType {
			out, _ := json.MarshalIndent(resp, "", "  ")
			fmt.Println(string(out))
			if ok, _ := resp["ok"].(bool); !ok {
				os.Exit(exitFatalConfig)
			}
			return
		}
	}
}

func runDaemon() {
	cfgMgr, err := config.NewManager()
	if err != nil {
		log.Printf("Failed to initialize config: %v", err)
		os.Exit(exitFatalConfig)
	}
	cfgMgr.OnWarn(func(msg string) { log.Printf("Config: %s", msg) })
	if err := cfgMgr.Load(); err != nil {
		log.Printf("Failed to load config, continuing with in-memory defaults: %v", err)
	}

	sv, err := supervisor.New(cfgMgr)
	if err != nil {
		log.Printf("Failed to initialize supervisor: %v", err)
		os.Exit(exitFatalConfig)
	}

	if err := sv.Start(nil); err != nil {
		if isPermissionErr(err) {
			log.Printf("Permission denied starting daemon: %v", err)
			os.Exit(exitPermission)
		}
		log.Printf("Failed to start: %v", err)
		os.Exit(exitPortInUse)
	}
	log.Printf("transwacomd listening on port %d", cfgMgr.ListenPort())

	api := driverapi.NewServer(sv)
	if err := api.Start(driverAPIAddr); err != nil {
		log.Printf("Failed to start driver API: %v", err)
		os.Exit(exitPortInUse)
	}
	defer api.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if *noTray {
		<-sigCh
		log.Println("Shutting down...")
		sv.Stop()
		os.Exit(exitOK)
	}

	app := tray.NewApp("TransWacom", sv)
	go func() {
		<-sigCh
		log.Println("Shutting down...")
		app.Stop()
	}()
	app.Run()
	sv.Stop()
	os.Exit(exitOK)
}

func isPermissionErr(err error) bool {
	var fe *faults.Error
	if errors.As(err, &fe) {
		return fe.Kind == faults.Permission
	}
	return os.IsPermission(err)
}
