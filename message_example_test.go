package sfstreaming

import (
	"encoding/json"
	"fmt"
)

func ExampleHandshakeRequestBuilder() {
	b := NewHandshakeRequestBuilder()
	if err := b.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil {
		return
	}
	if err := b.AddSupportedConnectionType(ConnectionTypeLongPolling); err != nil { // NOTE We de-duplicate connection types
		return
	}
	if err := b.AddVersion("1.0"); err != nil {
		return
	}
	if err := b.AddMinimumVersion("1.0"); err != nil {
		return
	}
	m, err := b.Build()
	if err != nil {
		return
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Println(string(jsonBytes))
	// Output:
	// {"channel":"/meta/handshake","version":"1.0","minimumVersion":"1.0","supportedConnectionTypes":["long-polling"]}
}

func ExampleConnectRequestBuilder() {
	b := NewConnectRequestBuilder()
	if err := b.AddConnectionType(ConnectionTypeLongPolling); err != nil {
		return
	}
	m, err := b.Build()
	if err != nil {
		return
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Println(string(jsonBytes))
	// Output:
	// {"channel":"/meta/connect","connectionType":"long-polling"}
}

func ExampleNewSubscribeRequestBuilder() {
	b := NewSubscribeRequestBuilder()
	if err := b.SetSubscription("/topic/InvoiceStatementUpdates"); err != nil {
		return
	}
	m, err := b.Build()
	if err != nil {
		return
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Println(string(jsonBytes))
	// Output:
	// {"channel":"/meta/subscribe","subscription":"/topic/InvoiceStatementUpdates"}
}

func ExampleNewUnsubscribeRequestBuilder() {
	b := NewUnsubscribeRequestBuilder()
	if err := b.SetSubscription("/event/Order__e"); err != nil {
		return
	}
	m, err := b.Build()
	if err != nil {
		return
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return
	}
	fmt.Println(string(jsonBytes))
	// Output:
	// {"channel":"/meta/unsubscribe","subscription":"/event/Order__e"}
}
