// Package sfstreaming provides a client for the Salesforce Streaming API,
// which speaks the CometD flavour of the Bayeux Protocol over HTTPS
// long-polling.
//
// Most applications want the client assembled by the salesforce package,
// which follows timeout advice, discovers the API version, replays missed
// events, reconnects when Salesforce forgets the session and retries
// subscribes while the server is busy.
//
//	fetcher, err := credentials.NewPassword(credentials.Config{
//		ClientID:     clientID,
//		ClientSecret: clientSecret,
//	}, username, password)
//	client, err := salesforce.New(fetcher)
//
// A session is started, used and stopped with Run
//
//	err = client.Run(ctx, func(ctx context.Context) error {
//		if _, err := client.Subscribe(ctx, "/topic/InvoiceStatementUpdates"); err != nil {
//			return err
//		}
//		for m, err := range client.Events(ctx) {
//			if err != nil {
//				return err
//			}
//			fmt.Println(string(m.Data))
//		}
//		return nil
//	})
//
// Call AskStop from another goroutine to end the loop once the current
// long-poll returns.
//
// BayeuxClient is the protocol engine underneath. Extensions wrap it by
// embedding the next Streamer and overriding the operations they intercept;
// Chain composes them. Extensions that only add fields to outgoing frames
// implement MessageExtender and register it with UseExtension
//
//	type Example struct{}
//	func (e *Example) Outgoing(ctx context.Context, m *sfstreaming.Message) error {
//		switch m.Channel {
//		case sfstreaming.MetaHandshake:
//			ext := m.GetExt(true)
//			ext["example"] = true
//		}
//		return nil
//	}
//
//	engine.UseExtension(&Example{})
package sfstreaming
