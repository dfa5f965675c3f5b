// Package main provides the playdeck control CLI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/playdeck/internal/api/connect"
	"github.com/osa030/playdeck/internal/app/notification"
	"github.com/osa030/playdeck/internal/domain/status"
)

var (
	app     = kingpin.New("deckctl", "playdeck control client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").Envar("PLAYDECK_SERVER").String()
	session = app.Flag("session", "Session (voice context) ID").Short('s').Envar("PLAYDECK_SESSION").String()
	timeout = app.Flag("timeout", "Request timeout").Default("10s").Duration()

	// enqueue command
	enqueueCmd       = app.Command("enqueue", "Queue a link, playlist or search").Alias("play")
	enqueueQuery     = enqueueCmd.Arg("query", "Link or search text").Required().String()
	enqueueRequester = enqueueCmd.Flag("requester", "Requester name").Default(os.Getenv("USER")).String()

	skipCmd     = app.Command("skip", "Skip the current track")
	pauseCmd    = app.Command("pause", "Pause playback")
	resumeCmd   = app.Command("resume", "Resume playback")
	toggleCmd   = app.Command("toggle", "Pause or resume playback")
	stopCmd     = app.Command("stop", "Stop playback and clear the queue")
	previousCmd = app.Command("previous", "Replay the previous track").Alias("prev")
	repeatCmd   = app.Command("repeat", "Toggle repeat of the current track")

	// volume command
	volumeCmd     = app.Command("volume", "Change the volume")
	volumeUpCmd   = volumeCmd.Command("up", "Raise the volume one step")
	volumeDownCmd = volumeCmd.Command("down", "Lower the volume one step")
	volumeSetCmd  = volumeCmd.Command("set", "Set the volume")
	volumeValue   = volumeSetCmd.Arg("value", "Volume between 0 and 2").Required().Float64()

	statusCmd = app.Command("status", "Show the session status")

	// queue command
	queueCmd  = app.Command("queue", "List queued tracks")
	queuePage = queueCmd.Arg("page", "Page number").Default("1").Int()

	// search command
	searchCmd       = app.Command("search", "Search and optionally queue one result")
	searchQuery     = searchCmd.Arg("query", "Search text").Required().String()
	searchPick      = searchCmd.Flag("pick", "Queue the Nth result").Short('p').Int()
	searchRequester = searchCmd.Flag("requester", "Requester name").Default(os.Getenv("USER")).String()

	sessionsCmd  = app.Command("sessions", "List live sessions").Alias("list")
	leaveCmd     = app.Command("leave", "Disconnect the session")
	subscribeCmd = app.Command("subscribe", "Follow status notifications (all sessions when --session is empty)")
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	client := apiconnect.NewClient(http.DefaultClient, *server)

	if command == subscribeCmd.FullCommand() {
		subscribe(client, *session)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	needsSession := command != sessionsCmd.FullCommand() && (command != searchCmd.FullCommand() || *searchPick > 0)
	if needsSession && *session == "" {
		fail(errors.New("--session (or PLAYDECK_SESSION) is required"))
	}

	switch command {
	case enqueueCmd.FullCommand():
		printResult(client.Enqueue(ctx, *session, *enqueueQuery, *enqueueRequester))
	case skipCmd.FullCommand():
		printResult(client.Control(ctx, *session, "skip", 0))
	case pauseCmd.FullCommand():
		printResult(client.Control(ctx, *session, "pause", 0))
	case resumeCmd.FullCommand():
		printResult(client.Control(ctx, *session, "resume", 0))
	case toggleCmd.FullCommand():
		printResult(client.Control(ctx, *session, "toggle_pause", 0))
	case searchCmd.FullCommand():
		searchAndPick(ctx, client, *session, *searchQuery, *searchPick, *searchRequester)
	case stopCmd.FullCommand():
		printResult(client.Control(ctx, *session, "stop", 0))
	case previousCmd.FullCommand():
		printResult(client.Control(ctx, *session, "previous", 0))
	case repeatCmd.FullCommand():
		printResult(client.Control(ctx, *session, "repeat", 0))
	case volumeUpCmd.FullCommand():
		printResult(client.Control(ctx, *session, "volume_up", 0))
	case volumeDownCmd.FullCommand():
		printResult(client.Control(ctx, *session, "volume_down", 0))
	case volumeSetCmd.FullCommand():
		printResult(client.Control(ctx, *session, "set_volume", *volumeValue))
	case statusCmd.FullCommand():
		resp, err := client.Status(ctx, *session)
		if err != nil {
			fail(err)
		}
		printStatus(resp.Status)
	case queueCmd.FullCommand():
		showQueue(ctx, client, *session, *queuePage)
	case sessionsCmd.FullCommand():
		listSessions(ctx, client)
	case leaveCmd.FullCommand():
		printResult(client.Leave(ctx, *session))
	}
}

func fail(err error) {
	fmt.Printf("Error: %v\n", err)
	os.Exit(1)
}

func printResult(res *apiconnect.Result, err error) {
	if err != nil {
		fail(err)
	}
	if !res.OK {
		fmt.Printf("Rejected [%s]: %s\n", res.Reason, res.Message)
		os.Exit(2)
	}
	switch {
	case res.Seq != 0:
		fmt.Printf("Queued (#%d)\n", res.Seq)
	case res.Message != "":
		fmt.Println(res.Message)
	default:
		fmt.Println("OK")
	}
}

func printStatus(s status.Snapshot) {
	fmt.Printf("\n=== SESSION %s ===\n", s.SessionID)
	fmt.Printf("State: %s\n", stateColor(s.State)(s.State))
	if !s.Connected {
		fmt.Println()
		return
	}
	fmt.Printf("Volume: %.0f%%\n", s.Volume*100)
	fmt.Printf("Repeat: %v\n", s.RepeatOne)
	fmt.Printf("Queue: %d (%d resolving)\n", s.QueueLength, s.Pending)

	if s.Current != nil {
		fmt.Println("\nNow Playing:")
		fmt.Printf("  Title: %s\n", s.Current.Title)
		if s.Current.Uploader != "" {
			fmt.Printf("  Uploader: %s\n", s.Current.Uploader)
		}
		fmt.Printf("  Duration: %s\n", s.Current.Duration.Round(time.Second))
		fmt.Printf("  URL: %s\n", s.Current.PageURL)
		if s.Current.Requester != "" {
			fmt.Printf("  Requested by: %s\n", s.Current.Requester)
		}
	} else {
		fmt.Println("\nNothing playing")
	}

	if len(s.Upcoming) > 0 {
		fmt.Println("\nUp Next:")
		printEntries(s.Upcoming)
	}
	fmt.Println()
}

func showQueue(ctx context.Context, client *apiconnect.Client, sessionID string, page int) {
	resp, err := client.Queue(ctx, sessionID, page)
	if err != nil {
		fail(err)
	}
	if !resp.Result.OK {
		fmt.Printf("Rejected [%s]: %s\n", resp.Result.Reason, resp.Result.Message)
		os.Exit(2)
	}
	fmt.Printf("Queue page %d/%d (%d tracks)\n", resp.Page, resp.Total, resp.Count)
	printEntries(resp.Entries)
}

func printEntries(entries []status.Entry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"#", "Title", "Duration", "Requester"})

	for _, e := range entries {
		duration, requester := "", ""
		label := e.Label()
		if e.Track != nil {
			duration = e.Track.Duration.Round(time.Second).String()
			requester = e.Track.Requester
		}
		if e.Pending {
			label = text.FgHiBlack.Sprint(label + " (resolving)")
		}
		t.AppendRow(table.Row{e.Seq, label, duration, requester})
	}
	t.Render()
}

func searchAndPick(ctx context.Context, client *apiconnect.Client, sessionID, query string, pick int, requester string) {
	res, err := client.Search(ctx, query)
	if err != nil {
		fail(err)
	}
	if !res.OK {
		fmt.Printf("Rejected [%s]: %s\n", res.Reason, res.Message)
		os.Exit(2)
	}

	if pick <= 0 {
		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"#", "Title", "Uploader", "Duration", "URL"})
		for i, c := range res.Candidates {
			t.AppendRow(table.Row{i + 1, c.Title, c.Uploader, c.Duration.Round(time.Second), c.URL})
		}
		t.Render()
		return
	}

	if pick > len(res.Candidates) {
		fail(errors.Newf("only %d results for %q", len(res.Candidates), query))
	}
	chosen := res.Candidates[pick-1]
	fmt.Printf("Picked: %s\n", chosen.Title)
	printResult(client.Enqueue(ctx, sessionID, chosen.URL, requester))
}

func listSessions(ctx context.Context, client *apiconnect.Client) {
	resp, err := client.Sessions(ctx)
	if err != nil {
		fail(err)
	}
	if len(resp.Sessions) == 0 {
		fmt.Println("No live sessions")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Session", "State", "Now Playing", "Queue", "Volume"})
	for _, s := range resp.Sessions {
		playing := ""
		if s.Current != nil {
			playing = s.Current.Title
		}
		color := stateColor(s.State)
		t.AppendRow(table.Row{
			s.SessionID,
			color(s.State),
			playing,
			s.QueueLength,
			fmt.Sprintf("%.0f%%", s.Volume*100),
		})
	}
	t.Render()
}

func stateColor(state string) func(a ...interface{}) string {
	switch state {
	case "playing":
		return text.FgGreen.Sprint
	case "paused":
		return text.FgYellow.Sprint
	case "resolving", "advancing":
		return text.FgCyan.Sprint
	case "disconnected", "disconnecting":
		return text.FgHiBlack.Sprint
	default:
		return fmt.Sprint
	}
}

func subscribe(client *apiconnect.Client, sessionID string) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stream, err := client.Subscribe(ctx, sessionID)
	if err != nil {
		fail(err)
	}
	defer stream.Close()

	fmt.Println("Subscribed to notifications. Press Ctrl+C to exit.")

	for stream.Receive() {
		printNotification(stream.Msg())
	}

	if err := stream.Err(); err != nil && ctx.Err() == nil {
		fmt.Printf("Stream error: %v\n", err)
	}
}

func printNotification(n *notification.Notification) {
	fmt.Printf("\n[Sequence: %d] ", n.SequenceNo)

	switch n.Type {
	case notification.TypeInitialState:
		fmt.Println("=== INITIAL STATE ===")
	case notification.TypeStateChanged:
		fmt.Println("=== STATE CHANGED ===")
	case notification.TypeTrackChanged:
		fmt.Println("=== TRACK CHANGED ===")
	case notification.TypeEnqueueFailed:
		fmt.Println(text.FgHiRed.Sprint("=== ENQUEUE FAILED ==="))
	case notification.TypeDisconnected:
		fmt.Println("=== DISCONNECTED ===")
	default:
		fmt.Printf("=== UNKNOWN EVENT (%v) ===\n", n.Type)
	}

	if n.Message != "" {
		fmt.Printf("%s: %s\n", n.SessionID, n.Message)
	}
	if n.Status != nil && n.Type != notification.TypeEnqueueFailed {
		printStatus(*n.Status)
	}
}
