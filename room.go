package main

import (
	"sort"
	"sync"
	"time"
)

// phase gates turn advancement: the barrier may only fire while collecting,
// which makes "advance at most once per turn" a structural property instead
// of a counter comparison.
type phase int

const (
	phaseCollecting phase = iota
	phaseAdvancing
	phaseFinished
)

func (p phase) String() string {
	switch p {
	case phaseAdvancing:
		return "advancing"
	case phaseFinished:
		return "finished"
	default:
		return "collecting"
	}
}

// submission is one player's title entry for the current turn, referencing
// exactly two cards from their hand. Cards stay in the hand until the turn
// advances, so a resubmission simply replaces the earlier entry.
type submission struct {
	Player    string
	Title     string
	UsedCards []Card
	Votes     int
	Turn      int
}

type standing struct {
	PlayerName string `json:"playerName"`
	Score      int    `json:"score"`
}

// room is one independent game session. All game state is owned by the
// room's run loop: every inbound event is handled to completion, including
// its broadcasts, before the next is taken, so per-room mutation is atomic
// without per-field locking. The mutex only covers fields the reaper and the
// HTTP state endpoint read from outside the loop.
type room struct {
	id string

	clients map[*client]bool
	conns   map[string]*client // playerName -> live connection, for routed sends

	roster   []string
	deck     []Card
	pile     []Card // discarded and played cards, reshuffled into the deck when it runs dry
	hands    map[string][]Card
	subs     []submission
	tally    map[string]int
	choices  map[string]string // voter -> target for the current turn
	ready    map[string]bool
	scores   map[string]int
	turn     int
	phase    phase
	allVoted bool // all-voted already announced this turn

	register chan *client
	unreg    chan *client
	joins    chan roomEvent
	actions  chan roomEvent
	readies  chan roomEvent

	mu sync.RWMutex

	createdAt  time.Time
	lastActive time.Time
}

type roomEvent struct {
	client *client
	msg    ClientMessage
}

func newRoom(roomID string, deck []Card) *room {
	now := time.Now()
	return &room{
		id:         roomID,
		clients:    make(map[*client]bool),
		conns:      make(map[string]*client),
		deck:       deck,
		hands:      make(map[string][]Card),
		tally:      make(map[string]int),
		choices:    make(map[string]string),
		ready:      make(map[string]bool),
		scores:     make(map[string]int),
		turn:       1,
		register:   make(chan *client),
		unreg:      make(chan *client),
		joins:      make(chan roomEvent),
		actions:    make(chan roomEvent),
		readies:    make(chan roomEvent),
		createdAt:  now,
		lastActive: now,
	}
}

func (rm *room) run(cfg *Config) {
	for {
		select {
		case c := <-rm.register:
			rm.mu.Lock()
			rm.lastActive = time.Now()
			rm.clients[c] = true

			// Let the new connection render the lobby before joining.
			rm.sendLocked(c, rosterMessage(rm.roster))
			rm.mu.Unlock()

		case c := <-rm.unreg:
			rm.mu.Lock()
			rm.lastActive = time.Now()

			if _, ok := rm.clients[c]; ok {
				delete(rm.clients, c)
				close(c.send)
			}

			// Only tear down player state if this connection still owns the
			// name; a rejoin on a fresh socket has already taken it over.
			if c.name != "" {
				if cur, bound := rm.conns[c.name]; !bound || cur == c {
					delete(rm.conns, c.name)
					if rm.leaveLocked(c.name) {
						logf(cfg, "ROOMS: Player %q disconnected from %s", c.name, rm.id)
						rm.broadcastLocked(rosterMessage(rm.roster))
						rm.afterRosterShrinkLocked(cfg)
					}
				}
			}
			rm.mu.Unlock()

		case ev := <-rm.joins:
			rm.handleJoin(cfg, ev)

		case ev := <-rm.actions:
			rm.handleAction(cfg, ev)

		case ev := <-rm.readies:
			rm.handleReady(cfg, ev)
		}
	}
}

// drawLocked removes and returns up to n cards from the front of the deck.
// When the deck runs dry the discard pile is shuffled back in, so hands only
// come up short once every card in the catalog is held by a player.
func (rm *room) drawLocked(n int) []Card {
	drawn := make([]Card, 0, n)

	for len(drawn) < n {
		if len(rm.deck) == 0 {
			if len(rm.pile) == 0 {
				break
			}
			rm.deck = shuffleCards(rm.pile)
			rm.pile = rm.pile[:0]
		}
		drawn = append(drawn, rm.deck[0])
		rm.deck = rm.deck[1:]
	}

	return drawn
}

func (rm *room) inRosterLocked(name string) bool {
	for _, n := range rm.roster {
		if n == name {
			return true
		}
	}
	return false
}

// leaveLocked removes every trace of a player: roster slot, hand (recycled
// onto the pile), vote tally key, cast vote, ready mark, submissions, and
// connection binding. Safe to call for names that never joined.
func (rm *room) leaveLocked(name string) bool {
	found := false
	dst := rm.roster[:0]
	for _, n := range rm.roster {
		if n == name {
			found = true
			continue
		}
		dst = append(dst, n)
	}
	rm.roster = dst

	if !found {
		return false
	}

	if hand, ok := rm.hands[name]; ok {
		rm.pile = append(rm.pile, hand...)
		delete(rm.hands, name)
	}

	delete(rm.tally, name)
	delete(rm.choices, name)
	delete(rm.ready, name)
	delete(rm.conns, name)

	subs := rm.subs[:0]
	for _, sub := range rm.subs {
		if sub.Player == name {
			continue
		}
		subs = append(subs, sub)
	}
	rm.subs = subs

	return true
}

// afterRosterShrinkLocked re-evaluates both barriers against the smaller
// roster, so a departed player cannot stall the turn for everyone else.
func (rm *room) afterRosterShrinkLocked(cfg *Config) {
	rm.maybeAllVotedLocked()
	rm.maybeAdvanceLocked(cfg)
}

func (rm *room) handleJoin(cfg *Config, ev roomEvent) {
	c := ev.client
	name := ev.msg.PlayerName

	if name == "" {
		rm.sendError(c, "a player name is required to join")
		return
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	if rm.phase == phaseFinished {
		rm.sendLocked(c, errorMessage("this game has ended"))
		return
	}

	// Joining under a name already in the room replaces the old occupant
	// wholesale, so a reconnect never leaves duplicate or stale state.
	rm.leaveLocked(name)

	rm.roster = append(rm.roster, name)
	rm.hands[name] = rm.drawLocked(cfg.handSize)
	if _, ok := rm.scores[name]; !ok {
		rm.scores[name] = 0
	}

	c.name = name
	rm.conns[name] = c

	logf(cfg, "ROOMS: Player %q joined %s", name, rm.id)

	rm.sendLocked(c, handMessage(rm.hands[name], rm.turn))
	rm.broadcastLocked(rosterMessage(rm.roster))
}

func (rm *room) handleAction(cfg *Config, ev roomEvent) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	switch ev.msg.Type {
	case "submit-title":
		rm.handleSubmitLocked(cfg, ev)
	case "vote":
		rm.handleVoteLocked(cfg, ev)
	case "discard-card":
		rm.handleDiscardLocked(cfg, ev)
	case "request-hand":
		rm.handleRequestHandLocked(ev)
	}
}

func (rm *room) handleSubmitLocked(cfg *Config, ev roomEvent) {
	c := ev.client
	msg := ev.msg

	if rm.phase == phaseFinished {
		rm.sendLocked(c, errorMessage("this game has ended"))
		return
	}

	if !rm.inRosterLocked(msg.PlayerName) {
		rm.sendLocked(c, errorMessage("join the room before submitting a title"))
		return
	}

	if len(msg.UsedCards) != 2 {
		logf(cfg, "ROOMS: Rejected submission with %d cards from %q in %s", len(msg.UsedCards), msg.PlayerName, rm.id)
		rm.sendLocked(c, errorMessage("a title must use exactly two cards"))
		return
	}

	if _, ok := removeFromHand(rm.hands[msg.PlayerName], msg.UsedCards); !ok {
		rm.sendLocked(c, errorMessage("those cards are not in your hand"))
		return
	}

	// One submission per player per turn; a resubmission replaces it.
	subs := rm.subs[:0]
	for _, sub := range rm.subs {
		if sub.Player == msg.PlayerName {
			continue
		}
		subs = append(subs, sub)
	}
	rm.subs = append(subs, submission{
		Player:    msg.PlayerName,
		Title:     msg.Title,
		UsedCards: msg.UsedCards,
		Turn:      rm.turn,
	})

	// The broadcast deliberately omits the cards used, so other players
	// only learn the title until the turn is scored.
	rm.broadcastLocked(titleSubmittedMessage(msg.PlayerName, msg.Title))
}

func (rm *room) handleVoteLocked(cfg *Config, ev roomEvent) {
	c := ev.client
	msg := ev.msg

	if rm.phase == phaseFinished {
		rm.sendLocked(c, errorMessage("this game has ended"))
		return
	}

	if !rm.inRosterLocked(msg.PlayerName) {
		rm.sendLocked(c, errorMessage("join the room before voting"))
		return
	}

	if msg.TargetName == "" {
		rm.sendLocked(c, errorMessage("a vote needs a target"))
		return
	}

	prev, voted := rm.choices[msg.PlayerName]
	if voted && prev == msg.TargetName {
		return
	}

	// A repeat vote reassigns the earlier choice rather than stacking.
	if voted {
		rm.tally[prev]--
		// The earlier vote may have landed on a submission since replaced;
		// never push the replacement below zero.
		if sub := rm.findSubmissionLocked(prev); sub != nil && sub.Votes > 0 {
			sub.Votes--
		}
		logf(cfg, "ROOMS: Player %q moved their vote from %q to %q in %s", msg.PlayerName, prev, msg.TargetName, rm.id)
	}

	rm.choices[msg.PlayerName] = msg.TargetName
	rm.tally[msg.TargetName]++
	if sub := rm.findSubmissionLocked(msg.TargetName); sub != nil {
		sub.Votes++
	}

	rm.maybeAllVotedLocked()
}

func (rm *room) findSubmissionLocked(player string) *submission {
	for i := range rm.subs {
		if rm.subs[i].Player == player {
			return &rm.subs[i]
		}
	}
	return nil
}

// maybeAllVotedLocked announces all-voted once per turn, when every current
// roster member has a recorded choice. Distinct voters, not vote count, so
// duplicate votes can never fire it early.
func (rm *room) maybeAllVotedLocked() {
	if rm.allVoted || rm.phase != phaseCollecting || len(rm.roster) == 0 {
		return
	}

	for _, name := range rm.roster {
		if _, ok := rm.choices[name]; !ok {
			return
		}
	}

	rm.allVoted = true
	rm.broadcastLocked(allVotedMessage())
}

func (rm *room) handleDiscardLocked(cfg *Config, ev roomEvent) {
	c := ev.client
	msg := ev.msg

	if rm.phase == phaseFinished {
		rm.sendLocked(c, errorMessage("this game has ended"))
		return
	}

	hand, ok := rm.hands[msg.PlayerName]
	if !ok {
		rm.sendLocked(c, errorMessage("join the room before discarding"))
		return
	}

	remaining, ok := removeFromHand(hand, []Card{msg.Card})
	if !ok {
		rm.sendLocked(c, errorMessage("that card is not in your hand"))
		return
	}

	if len(rm.deck) == 0 && len(rm.pile) == 0 {
		logf(cfg, "ROOMS: Deck exhausted in %s, discard from %q refused", rm.id, msg.PlayerName)
		rm.sendLocked(c, errorMessage("no cards left to draw"))
		return
	}

	// Draw the replacement before recycling the discarded card, so a player
	// cannot be dealt their own discard back in the same swap.
	remaining = append(remaining, rm.drawLocked(1)...)
	rm.pile = append(rm.pile, msg.Card)
	rm.hands[msg.PlayerName] = remaining

	rm.sendLocked(c, handMessage(remaining, rm.turn))
}

func (rm *room) handleRequestHandLocked(ev roomEvent) {
	hand, ok := rm.hands[ev.msg.PlayerName]
	if !ok {
		rm.sendLocked(ev.client, errorMessage("join the room to receive a hand"))
		return
	}

	rm.sendLocked(ev.client, handMessage(hand, rm.turn))
}

func (rm *room) handleReady(cfg *Config, ev roomEvent) {
	c := ev.client
	name := ev.msg.PlayerName

	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.lastActive = time.Now()

	if rm.phase == phaseFinished {
		rm.sendLocked(c, errorMessage("this game has ended"))
		return
	}

	if !rm.inRosterLocked(name) {
		rm.sendLocked(c, errorMessage("join the room before readying up"))
		return
	}

	// Redundant signals are ignored; only the first is announced.
	if rm.ready[name] {
		return
	}
	rm.ready[name] = true

	rm.broadcastLocked(playerReadyMessage(name))
	rm.maybeAdvanceLocked(cfg)
}

// maybeAdvanceLocked fires the barrier when every roster member is ready.
// The phase gate means re-evaluations within the same event chain (for
// example a leave that both empties the ready set and triggers it) can never
// advance the same turn twice.
func (rm *room) maybeAdvanceLocked(cfg *Config) {
	if rm.phase != phaseCollecting || len(rm.roster) == 0 {
		return
	}

	for _, name := range rm.roster {
		if !rm.ready[name] {
			return
		}
	}

	rm.advanceTurnLocked(cfg)
}

func (rm *room) advanceTurnLocked(cfg *Config) {
	rm.phase = phaseAdvancing

	for i := range rm.subs {
		sub := &rm.subs[i]

		hand, removed := splitHand(rm.hands[sub.Player], sub.UsedCards)
		rm.pile = append(rm.pile, removed...)

		if short := cfg.handSize - len(hand); short > 0 {
			hand = append(hand, rm.drawLocked(short)...)
		}
		rm.hands[sub.Player] = hand
		rm.scores[sub.Player] += sub.Votes

		rm.sendToPlayerLocked(sub.Player, handMessage(hand, rm.turn+1))
	}

	finished := cfg.maxTurns > 0 && rm.turn >= cfg.maxTurns

	rm.turn++
	rm.subs = nil
	rm.tally = make(map[string]int)
	rm.choices = make(map[string]string)
	rm.ready = make(map[string]bool)
	rm.allVoted = false

	if finished {
		rm.phase = phaseFinished
		logf(cfg, "ROOMS: Game over in %s after %d turns", rm.id, cfg.maxTurns)
		rm.broadcastLocked(gameOverMessage(rm.standingsLocked()))
		return
	}

	rm.phase = phaseCollecting

	logf(cfg, "ROOMS: %s advanced to turn %d", rm.id, rm.turn)

	rm.broadcastLocked(nextTurnMessage(rm.turn))

	// Re-send every hand, including unchanged ones, so clients whose routed
	// send above could not be delivered still converge on the new turn.
	for _, name := range rm.roster {
		rm.sendToPlayerLocked(name, handMessage(rm.hands[name], rm.turn))
	}
}

func (rm *room) standingsLocked() []standing {
	standings := make([]standing, 0, len(rm.roster))
	for _, name := range rm.roster {
		standings = append(standings, standing{PlayerName: name, Score: rm.scores[name]})
	}

	sort.Slice(standings, func(i, j int) bool {
		if standings[i].Score != standings[j].Score {
			return standings[i].Score > standings[j].Score
		}
		return standings[i].PlayerName < standings[j].PlayerName
	})

	return standings
}

// sendLocked queues a message for one connection, evicting it if its send
// buffer is full (the write pump has stalled or gone away).
func (rm *room) sendLocked(c *client, msg any) {
	if _, ok := rm.clients[c]; !ok {
		return
	}

	select {
	case c.send <- msg:
	default:
		rm.evictLocked(c)
	}
}

func (rm *room) sendError(c *client, text string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.sendLocked(c, errorMessage(text))
}

// sendToPlayerLocked routes a message to whichever connection the player is
// bound to. Unresolved players are skipped; they catch up via request-hand.
func (rm *room) sendToPlayerLocked(name string, msg any) {
	if c, ok := rm.conns[name]; ok {
		rm.sendLocked(c, msg)
	}
}

func (rm *room) broadcastLocked(msg any) {
	for c := range rm.clients {
		select {
		case c.send <- msg:
		default:
			rm.evictLocked(c)
		}
	}
}

// evictLocked drops a dead connection without touching player state; the
// read pump's unregister handles the actual leave.
func (rm *room) evictLocked(c *client) {
	delete(rm.clients, c)
	close(c.send)
	if c.name != "" && rm.conns[c.name] == c {
		delete(rm.conns, c.name)
	}
}

// splitHand partitions a hand into (remaining, removed), removing at most one
// instance per requested card. Cards not present are simply not removed.
func splitHand(hand []Card, cards []Card) (remaining []Card, removed []Card) {
	remaining = make([]Card, len(hand))
	copy(remaining, hand)

	for _, card := range cards {
		for i, held := range remaining {
			if held == card {
				remaining = append(remaining[:i], remaining[i+1:]...)
				removed = append(removed, card)
				break
			}
		}
	}

	return remaining, removed
}

// removeFromHand is the strict form of splitHand: it fails unless every
// requested card (counting duplicates) is present.
func removeFromHand(hand []Card, cards []Card) ([]Card, bool) {
	remaining, removed := splitHand(hand, cards)
	if len(removed) != len(cards) {
		return hand, false
	}
	return remaining, true
}
