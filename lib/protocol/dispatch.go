// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package protocol

import "fmt"

// Message is any of the BEP payload types carried by a frame after the
// Hello. It exists purely so Send can take one argument and pick the right
// MessageType and marshaller.
type Message interface{}

// Encode returns the MessageType and wire bytes for any BEP message.
func Encode(msg Message) (MessageType, []byte, error) {
	switch m := msg.(type) {
	case ClusterConfig:
		b, err := MarshalClusterConfig(m)
		return MessageTypeClusterConfig, b, err
	case Index:
		b, err := MarshalIndex(m)
		return MessageTypeIndex, b, err
	case IndexUpdate:
		b, err := MarshalIndexUpdate(m)
		return MessageTypeIndexUpdate, b, err
	case Request:
		b, err := MarshalRequest(m)
		return MessageTypeRequest, b, err
	case Response:
		b, err := MarshalResponse(m)
		return MessageTypeResponse, b, err
	case DownloadProgress:
		b, err := MarshalDownloadProgress(m)
		return MessageTypeDownloadProgress, b, err
	case Ping:
		return MessageTypePing, nil, nil
	case Close:
		b, err := MarshalClose(m)
		return MessageTypeClose, b, err
	default:
		return 0, nil, fmt.Errorf("unencodable message type %T", msg)
	}
}

// Decode unmarshals a frame payload given its declared MessageType.
func Decode(typ MessageType, payload []byte) (Message, error) {
	switch typ {
	case MessageTypeClusterConfig:
		return UnmarshalClusterConfig(payload)
	case MessageTypeIndex:
		return UnmarshalIndex(payload)
	case MessageTypeIndexUpdate:
		return UnmarshalIndexUpdate(payload)
	case MessageTypeRequest:
		return UnmarshalRequest(payload)
	case MessageTypeResponse:
		return UnmarshalResponse(payload)
	case MessageTypeDownloadProgress:
		return UnmarshalDownloadProgress(payload)
	case MessageTypePing:
		return Ping{}, nil
	case MessageTypeClose:
		return UnmarshalClose(payload)
	default:
		return nil, fmt.Errorf("unknown message type %d", typ)
	}
}
