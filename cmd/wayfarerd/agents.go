package main

import (
	"encoding/json"

	"github.com/wayfarerhq/wayfarer/internal/agent"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

// defaultAgents is the built-in travel desk: a concierge that routes to the
// flight and hotel specialists.
func defaultAgents() []agent.Config {
	return []agent.Config{
		{
			Name: "concierge",
			Instructions: "You are Wayfarer's travel concierge. Greet the traveler, " +
				"understand what they need, answer general trip questions, and hand " +
				"off to the flights or hotel desk specialist when the request is " +
				"specific to those areas. Keep answers short; this is a voice conversation.",
			DownstreamAgents: []string{"flights", "hotel desk"},
			Voice:            "alloy",
		},
		{
			Name: "flights",
			Instructions: "You are Wayfarer's flight specialist. Help the traveler " +
				"search fares, pick itineraries, and understand fare rules. Use the " +
				"lookup_fares tool for availability questions. Keep answers short; " +
				"this is a voice conversation.",
			Tools: []protocol.ToolDef{
				{
					Type:        "function",
					Name:        "lookup_fares",
					Description: "Search current fares between two airports on a date.",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"origin": {"type": "string", "description": "IATA airport code"},
							"destination": {"type": "string", "description": "IATA airport code"},
							"date": {"type": "string", "description": "Departure date, YYYY-MM-DD"}
						},
						"required": ["origin", "destination", "date"]
					}`),
				},
			},
			DownstreamAgents: []string{"concierge"},
			Voice:            "echo",
		},
		{
			Name: "hotel desk",
			Instructions: "You are Wayfarer's hotel specialist. Help the traveler " +
				"find and compare stays. Use the search_hotels tool for availability " +
				"questions. Keep answers short; this is a voice conversation.",
			Tools: []protocol.ToolDef{
				{
					Type:        "function",
					Name:        "search_hotels",
					Description: "Search hotel availability in a city for a date range.",
					Parameters: json.RawMessage(`{
						"type": "object",
						"properties": {
							"city": {"type": "string"},
							"check_in": {"type": "string", "description": "YYYY-MM-DD"},
							"check_out": {"type": "string", "description": "YYYY-MM-DD"},
							"guests": {"type": "integer", "minimum": 1}
						},
						"required": ["city", "check_in", "check_out"]
					}`),
				},
			},
			DownstreamAgents: []string{"concierge"},
			Voice:            "shimmer",
		},
	}
}
