package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/showdown/go/internal/admin"
	"github.com/mcdev12/showdown/go/internal/auth"
	"github.com/mcdev12/showdown/go/internal/models"
	"github.com/mcdev12/showdown/go/internal/voting"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp(os.Stdout, http.DefaultClient).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer, httpClient *http.Client) *cli.App {
	return &cli.App{
		Name:   "showdownctl",
		Usage:  "administer showdown tournaments",
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server",
				Usage:   "base URL of the showdown server",
				Value:   "http://localhost:8080",
				EnvVars: []string{"SHOWDOWN_SERVER"},
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "bearer token sent with every call",
				EnvVars: []string{"SHOWDOWN_TOKEN"},
			},
		},
		Commands: []*cli.Command{
			newTournamentCommand(httpClient),
			newRoomCommand(httpClient),
			newTokenCommand(),
		},
	}
}

func clientFrom(c *cli.Context, httpClient *http.Client) *admin.Client {
	return admin.NewClient(httpClient, c.String("server"), c.String("token"))
}

func newTournamentCommand(httpClient *http.Client) *cli.Command {
	return &cli.Command{
		Name:  "tournament",
		Usage: "tournament lifecycle",
		Subcommands: []*cli.Command{
			{
				Name:  "create",
				Usage: "create a tournament",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "name", Required: true},
					&cli.StringFlag{Name: "description"},
					&cli.StringFlag{Name: "created-by"},
					&cli.IntFlag{Name: "room-size", Usage: "max participants per room"},
					&cli.IntFlag{Name: "advance", Usage: "winners per room"},
					&cli.IntFlag{Name: "performance", Usage: "performance seconds"},
					&cli.IntFlag{Name: "voting", Usage: "voting seconds"},
					&cli.IntFlag{Name: "preparation", Usage: "preparation seconds"},
					&cli.StringFlag{Name: "start-at", Usage: "RFC 3339 start instant"},
				},
				Action: func(c *cli.Context) error {
					req := &admin.CreateTournamentRequest{
						Name:        c.String("name"),
						Description: c.String("description"),
						CreatedBy:   c.String("created-by"),
					}
					settings := models.TournamentSettings{
						MaxParticipantsPerRoom: c.Int("room-size"),
						AdvancePerRoom:         c.Int("advance"),
						PerformanceTimeSec:     c.Int("performance"),
						VotingTimeSec:          c.Int("voting"),
						PreparationTimeSec:     c.Int("preparation"),
					}
					if settings != (models.TournamentSettings{}) {
						req.Settings = &settings
					}
					at, err := parseTime(c.String("start-at"))
					if err != nil {
						return err
					}
					req.StartAt = at

					resp, err := clientFrom(c, httpClient).CreateTournament(c.Context, req)
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "register",
				Usage:     "register a participant",
				ArgsUsage: "TOURNAMENT_ID USER_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).RegisterParticipant(c.Context, &admin.RegisterParticipantRequest{
						TournamentID: c.Args().Get(0),
						UserID:       c.Args().Get(1),
					})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "schedule",
				Usage:     "set the start instant, default shortly from now",
				ArgsUsage: "TOURNAMENT_ID",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "at", Usage: "RFC 3339 start instant"},
				},
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 1); err != nil {
						return err
					}
					at, err := parseTime(c.String("at"))
					if err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).ScheduleStart(c.Context, &admin.ScheduleStartRequest{
						TournamentID: c.Args().First(),
						StartAt:      at,
					})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "countdown",
				Usage:     "start the countdown to the scheduled start",
				ArgsUsage: "TOURNAMENT_ID",
				Action: tournamentAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.TournamentRequest) (any, error) {
					return client.StartCountdown(ctx, req)
				}),
			},
			{
				Name:      "start",
				Usage:     "start the first round now",
				ArgsUsage: "TOURNAMENT_ID",
				Action: tournamentAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.TournamentRequest) (any, error) {
					return client.StartTournament(ctx, req)
				}),
			},
			{
				Name:      "get",
				Usage:     "show a tournament",
				ArgsUsage: "TOURNAMENT_ID",
				Action: tournamentAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.TournamentRequest) (any, error) {
					return client.GetTournament(ctx, req)
				}),
			},
			{
				Name:      "history",
				Usage:     "show every stored round with its rooms and results",
				ArgsUsage: "TOURNAMENT_ID",
				Action: tournamentAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.TournamentRequest) (any, error) {
					return client.GetRoundHistory(ctx, req)
				}),
			},
			{
				Name:  "list",
				Usage: "list tournaments",
				Flags: []cli.Flag{
					&cli.StringSliceFlag{Name: "status", Usage: "only these statuses"},
				},
				Action: func(c *cli.Context) error {
					var statuses []models.TournamentStatus
					for _, s := range c.StringSlice("status") {
						statuses = append(statuses, models.TournamentStatus(s))
					}
					resp, err := clientFrom(c, httpClient).ListTournaments(c.Context, &admin.ListTournamentsRequest{Statuses: statuses})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "kick",
				Usage:     "remove a participant from the tournament and their room",
				ArgsUsage: "TOURNAMENT_ID USER_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).KickParticipant(c.Context, &admin.KickParticipantRequest{
						TournamentID: c.Args().Get(0),
						UserID:       c.Args().Get(1),
					})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "status",
				Usage:     "show where a participant stands",
				ArgsUsage: "TOURNAMENT_ID USER_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).ParticipantStatus(c.Context, &admin.ParticipantStatusRequest{
						TournamentID: c.Args().Get(0),
						UserID:       c.Args().Get(1),
					})
					return printResult(c, resp, err)
				},
			},
		},
	}
}

func newRoomCommand(httpClient *http.Client) *cli.Command {
	return &cli.Command{
		Name:  "room",
		Usage: "room commands",
		Subcommands: []*cli.Command{
			{
				Name:      "get",
				Usage:     "show a room",
				ArgsUsage: "ROOM_ID",
				Action: roomAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.RoomRequest) (any, error) {
					return client.GetRoom(ctx, req)
				}),
			},
			{
				Name:      "pause",
				Usage:     "pause the room timer",
				ArgsUsage: "ROOM_ID",
				Action: roomAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.RoomRequest) (any, error) {
					return client.PauseRoomTimer(ctx, req)
				}),
			},
			{
				Name:      "resume",
				Usage:     "resume the room timer",
				ArgsUsage: "ROOM_ID",
				Action: roomAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.RoomRequest) (any, error) {
					return client.ResumeRoomTimer(ctx, req)
				}),
			},
			{
				Name:      "skip",
				Usage:     "skip the current preparation countdown",
				ArgsUsage: "ROOM_ID",
				Action: roomAction(httpClient, func(ctx context.Context, client *admin.Client, req *admin.RoomRequest) (any, error) {
					return client.SkipPreparation(ctx, req)
				}),
			},
			{
				Name:      "join",
				Usage:     "mark a participant present in the room",
				ArgsUsage: "ROOM_ID USER_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).JoinRoom(c.Context, &admin.RoomMembershipRequest{
						RoomID: c.Args().Get(0),
						UserID: c.Args().Get(1),
					})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "leave",
				Usage:     "remove a participant from the room",
				ArgsUsage: "ROOM_ID USER_ID",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 2); err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).LeaveRoom(c.Context, &admin.RoomMembershipRequest{
						RoomID: c.Args().Get(0),
						UserID: c.Args().Get(1),
					})
					return printResult(c, resp, err)
				},
			},
			{
				Name:      "vote",
				Usage:     "submit a voter's ballots",
				ArgsUsage: "ROOM_ID VOTER_ID TARGET=SCORE...",
				Action: func(c *cli.Context) error {
					if err := requireArgs(c, 3); err != nil {
						return err
					}
					ballots, err := parseBallots(c.Args().Slice()[2:])
					if err != nil {
						return err
					}
					resp, err := clientFrom(c, httpClient).SubmitVote(c.Context, &admin.SubmitVoteRequest{
						RoomID:  c.Args().Get(0),
						VoterID: c.Args().Get(1),
						Votes:   ballots,
					})
					return printResult(c, resp, err)
				},
			},
		},
	}
}

func newTokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "sign a token with the server secret",
		ArgsUsage: "USER_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "secret", EnvVars: []string{"JWT_SECRET"}, Required: true},
			&cli.BoolFlag{Name: "admin", Usage: "grant admin procedures"},
			&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			token, err := auth.NewService(c.String("secret")).GenerateToken(c.Args().First(), c.Bool("admin"), c.Duration("ttl"))
			if err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, token)
			return nil
		},
	}
}

func tournamentAction(httpClient *http.Client, fn func(context.Context, *admin.Client, *admin.TournamentRequest) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := requireArgs(c, 1); err != nil {
			return err
		}
		resp, err := fn(c.Context, clientFrom(c, httpClient), &admin.TournamentRequest{TournamentID: c.Args().First()})
		return printResult(c, resp, err)
	}
}

func roomAction(httpClient *http.Client, fn func(context.Context, *admin.Client, *admin.RoomRequest) (any, error)) cli.ActionFunc {
	return func(c *cli.Context) error {
		if err := requireArgs(c, 1); err != nil {
			return err
		}
		resp, err := fn(c.Context, clientFrom(c, httpClient), &admin.RoomRequest{RoomID: c.Args().First()})
		return printResult(c, resp, err)
	}
}

func requireArgs(c *cli.Context, n int) error {
	if c.NArg() < n {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}

func printResult(c *cli.Context, resp any, err error) error {
	if err != nil {
		return err
	}
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(resp)
}

func parseTime(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	at, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid time %q: %w", raw, err)
	}
	return &at, nil
}

// parseBallots reads TARGET=SCORE pairs.
func parseBallots(args []string) ([]voting.Ballot, error) {
	ballots := make([]voting.Ballot, 0, len(args))
	for _, arg := range args {
		target, rawScore, ok := strings.Cut(arg, "=")
		if !ok || target == "" {
			return nil, fmt.Errorf("ballot %q must look like TARGET=SCORE", arg)
		}
		score, err := strconv.Atoi(rawScore)
		if err != nil {
			return nil, fmt.Errorf("ballot %q has a non-numeric score", arg)
		}
		ballots = append(ballots, voting.Ballot{TargetID: target, Score: score})
	}
	return ballots, nil
}
