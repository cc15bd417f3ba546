// # Go Voice Call Client for LiveKit AI Agents
//
// This repository provides a Go package and a terminal client for holding a voice conversation with an AI agent that lives in a LiveKit room. It fetches a short-lived access token from a local proxy, joins the room, publishes the microphone and plays back the agent's audio.
package voicecall
