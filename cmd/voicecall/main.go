// Command voicecall places a voice call to an AI agent over LiveKit.
//
// Usage:
//
//	voicecall [flags] <command>
//
// Commands:
//
//	call   - join a room, publish the microphone and play the agent
//	token  - fetch one set of credentials and print them
//	proxy  - run the local token proxy the client talks to
package main

import (
	"fmt"
	"os"

	"github.com/bt-bridge/livekit-voicecall/cmd/voicecall/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
