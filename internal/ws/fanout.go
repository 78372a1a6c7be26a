package ws

// Fanout meneruskan satu event ke beberapa publisher sekaligus.
type Fanout []RealtimePublisher

func (f Fanout) Publish(event WsEvent) {
	for _, p := range f {
		if p != nil {
			p.Publish(event)
		}
	}
}
