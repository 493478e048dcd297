// The packet_analyzer command decodes a captured client packet stream (for
// instance the body of a bancho POST request saved to a file) and prints a
// human-readable summary of each packet. Handy for debugging client behavior
// without attaching a debugger to the server.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/dzifors/nova/internal/protocol"
)

var dumpPayloads = flag.Bool("hex", false, "Hexdump each packet's payload.")

func main() {
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println("usage: packet_analyzer [-hex] <capture file>")
		os.Exit(1)
	}

	capture, err := os.ReadFile(flag.Arg(0))
	if err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}

	// Accept every id so nothing in the capture is skipped.
	stream := protocol.NewPacketStream(capture, func(protocol.ClientPacketID) bool {
		return true
	})

	for i := 0; ; i++ {
		packet, err := stream.Next()
		if err != nil {
			fmt.Printf("stream truncated after %d packets: %v\n", i, err)
			os.Exit(1)
		}
		if packet == nil {
			return
		}

		fmt.Printf("[%3d] id=%-3d %-28s len=%d\n",
			i, packet.ID, clientPacketName(packet.ID), packet.Payload.Remaining())
		if *dumpPayloads && packet.Payload.Remaining() > 0 {
			raw, _ := packet.Payload.ReadBytes(packet.Payload.Remaining())
			fmt.Print(hex.Dump(raw))
		}
	}
}

func clientPacketName(id protocol.ClientPacketID) string {
	names := map[protocol.ClientPacketID]string{
		protocol.ClientChangeAction:               "ChangeAction",
		protocol.ClientSendPublicMessage:          "SendPublicMessage",
		protocol.ClientLogout:                     "Logout",
		protocol.ClientRequestStatusUpdate:        "RequestStatusUpdate",
		protocol.ClientPing:                       "Ping",
		protocol.ClientStartSpectating:            "StartSpectating",
		protocol.ClientStopSpectating:             "StopSpectating",
		protocol.ClientSpectateFrames:             "SpectateFrames",
		protocol.ClientErrorReport:                "ErrorReport",
		protocol.ClientCantSpectate:               "CantSpectate",
		protocol.ClientSendPrivateMessage:         "SendPrivateMessage",
		protocol.ClientPartLobby:                  "PartLobby",
		protocol.ClientJoinLobby:                  "JoinLobby",
		protocol.ClientChannelJoin:                "ChannelJoin",
		protocol.ClientFriendAdd:                  "FriendAdd",
		protocol.ClientFriendRemove:               "FriendRemove",
		protocol.ClientChannelPart:                "ChannelPart",
		protocol.ClientReceiveUpdates:             "ReceiveUpdates",
		protocol.ClientSetAwayMessage:             "SetAwayMessage",
		protocol.ClientUserStatsRequest:           "UserStatsRequest",
		protocol.ClientUserPresenceRequest:        "UserPresenceRequest",
		protocol.ClientUserPresenceRequestAll:     "UserPresenceRequestAll",
		protocol.ClientToggleBlockNonFriendDMs:    "ToggleBlockNonFriendDMs",
		protocol.ClientTournamentMatchInfoRequest: "TournamentMatchInfoRequest",
	}
	if name, ok := names[id]; ok {
		return name
	}
	return "Unknown"
}
