package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/chat"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/content"
	"github.com/tcriess/family-hub/dashboard"
	"github.com/tcriess/family-hub/filter"
	"github.com/tcriess/family-hub/forum"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/profile"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/types"
)

// A very simple CLI tool for the administration of the family hub. Every command runs as the configured admin user.

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
)

func printJSON(v interface{}) {
	out, err := json.Marshal(v)
	if err != nil {
		globals.AppLogger.Error("could not marshal result", "error", err)
		return
	}
	fmt.Println(string(out))
}

func main() {
	log.SetFlags(0)

	_ = godotenv.Load()

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	// subcommand flags are parsed by cobra
	pflag.CommandLine.ParseErrorsWhitelist.UnknownFlags = true

	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}

	globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		panic(err)
	}
	defer gw.Close()

	store, err := storage.NewLocal(cfg.StorageConfig)
	if err != nil {
		panic(err)
	}

	ctx := context.Background()
	authors := mapper.NewAuthors(gw, cfg.SyncConfig.AuthorCacheSize)
	m := mapper.New(gw, authors)
	session := auth.NewSession()
	authService := auth.NewService(gw, cfg.AuthConfig, session, nil)
	notices := notify.Logger{Log: globals.AppLogger.Named("notice")}

	forumService := forum.NewService(gw, session, m, cfg)
	forumService.Notifier = notices
	chatService := chat.NewService(gw, session, m, cfg)
	chatService.Notifier = notices
	contentService := content.NewService(gw, session, m, store, cfg)
	contentService.Notifier = notices
	profileService := profile.NewService(gw, session, m, store)
	profileService.Notifier = notices
	dashboardService := dashboard.NewService(gw, session, m, cfg)
	dashboardService.Notifier = notices

	// commands run as the admin user, a missing admin profile is reported by the commands themselves
	_, err = authService.AssumeEmail(ctx, cfg.AdminUser)
	if err != nil {
		globals.AppLogger.Warn("could not sign in as admin user", "admin_user", cfg.AdminUser, "error", err)
	}

	var where string
	var limit int
	var pinned bool

	var cmdShow = &cobra.Command{
		Use:   "show",
		Short: "Show users, categories, posts, groups, announcements or stats",
		Long:  `show is for printing information about the entities of the hub.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Show: " + strings.Join(args, " "))
		},
	}
	var cmdShowUsers = &cobra.Command{
		Use:   "users",
		Short: "Show users",
		Long:  `shows a listing of all members, optionally filtered with --where, f.e. --where 'Role == "admin"'.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			users, err := profileService.List(ctx, where)
			if err != nil {
				return
			}
			printJSON(users)
		},
	}
	cmdShowUsers.Flags().StringVarP(&where, "where", "w", "", "filter expression")
	var cmdShowCategories = &cobra.Command{
		Use:   "categories",
		Short: "Show forum categories",
		Long:  `shows all forum categories with their post counts.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			categories, err := forumService.Categories(ctx)
			if err != nil {
				return
			}
			printJSON(categories)
		},
	}
	var cmdShowPosts = &cobra.Command{
		Use:   "posts [category id]",
		Short: "Show forum posts",
		Long:  `shows the posts of all categories or of the given category, optionally filtered with --where.`,
		Args:  cobra.MaximumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			categoryId := ""
			if len(args) > 0 {
				categoryId = args[0]
			}
			posts, err := forumService.Posts(ctx, categoryId)
			if err != nil {
				return
			}
			if where != "" {
				pred, err := filter.Posts(where)
				if err != nil {
					globals.AppLogger.Error("invalid filter expression", "error", err)
					return
				}
				filtered := make([]types.ForumPost, 0, len(posts))
				for _, p := range posts {
					if pred(p) {
						filtered = append(filtered, p)
					}
				}
				posts = filtered
			}
			printJSON(posts)
		},
	}
	cmdShowPosts.Flags().StringVarP(&where, "where", "w", "", "filter expression")
	var cmdShowGroups = &cobra.Command{
		Use:   "groups",
		Short: "Show chat groups",
		Long:  `shows the chat groups the admin user is a member of.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			groups, err := chatService.MyGroups(ctx)
			if err != nil {
				return
			}
			printJSON(groups)
		},
	}
	var cmdShowMessages = &cobra.Command{
		Use:   "messages [group id]",
		Short: "Show chat messages",
		Long:  `shows the messages of a chat group, oldest first.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			messages, err := chatService.Messages(ctx, args[0])
			if err != nil {
				return
			}
			printJSON(messages)
		},
	}
	var cmdShowAnnouncements = &cobra.Command{
		Use:   "announcements",
		Short: "Show announcements",
		Long:  `shows all announcements, pinned ones first.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			announcements, err := contentService.Announcements(ctx)
			if err != nil {
				return
			}
			printJSON(announcements)
		},
	}
	var cmdShowStats = &cobra.Command{
		Use:   "stats [membership|activity|revenue]",
		Short: "Show statistics",
		Long:  `shows the latest stat records of the given kind, optionally filtered with --where.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			records, err := dashboardService.Stats(ctx, args[0], limit)
			if err != nil {
				return
			}
			if where != "" {
				records, err = dashboard.Where(records, where)
				if err != nil {
					globals.AppLogger.Error("invalid filter expression", "error", err)
					return
				}
			}
			printJSON(records)
		},
	}
	cmdShowStats.Flags().IntVarP(&limit, "limit", "l", 24, "number of records")
	cmdShowStats.Flags().StringVarP(&where, "where", "w", "", "filter expression")

	var cmdSet = &cobra.Command{
		Use:   "set",
		Short: "create/update categories or roles",
		Long:  `set creates forum categories or changes member roles.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Set: " + strings.Join(args, " "))
		},
	}
	var cmdSetCategory = &cobra.Command{
		Use:   "category [name] [description]",
		Short: "Create category",
		Long:  `set category creates a forum category.`,
		Args:  cobra.RangeArgs(1, 2),
		Run: func(cmd *cobra.Command, args []string) {
			description := ""
			if len(args) > 1 {
				description = args[1]
			}
			category, err := forumService.CreateCategory(ctx, args[0], description)
			if err != nil {
				return
			}
			printJSON(category)
		},
	}
	var cmdSetRole = &cobra.Command{
		Use:   "role [user id] [user|moderator|admin]",
		Short: "Set role",
		Long:  `set role changes the role of a member.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			user, err := profileService.SetRole(ctx, args[0], args[1])
			if err != nil {
				return
			}
			printJSON(user)
		},
	}

	var cmdAnnounce = &cobra.Command{
		Use:   "announce [title] [content]",
		Short: "Publish an announcement",
		Long:  `announce publishes an announcement, --pinned keeps it on top.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			a, err := contentService.CreateAnnouncement(ctx, args[0], args[1], pinned)
			if err != nil {
				return
			}
			printJSON(a)
		},
	}
	cmdAnnounce.Flags().BoolVarP(&pinned, "pinned", "p", false, "pin the announcement")

	var cmdSnapshot = &cobra.Command{
		Use:   "snapshot",
		Short: "Record statistics",
		Long:  `snapshot records the membership, activity and revenue statistics right now.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			records, err := dashboard.NewRecorder(gw, cfg.StatsConfig).Snapshot(ctx)
			if err != nil {
				globals.AppLogger.Error("could not record statistics", "error", err)
				return
			}
			printJSON(records)
		},
	}

	var cmdWatch = &cobra.Command{
		Use:   "watch",
		Short: "Follow a live list",
		Long:  `watch prints a live list every time it changes until interrupted.`,
		Args:  cobra.MinimumNArgs(0),
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Watch: " + strings.Join(args, " "))
		},
	}
	var cmdWatchMessages = &cobra.Command{
		Use:   "messages [group id]",
		Short: "Follow a conversation",
		Long:  `watch messages prints the messages of a chat group whenever they change.`,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			v := chatService.ConversationView(args[0])
			follow(ctx, v.Binding, func(s live.Snapshot[types.ChatMessage]) {
				for _, msg := range s.Items {
					fmt.Printf("%s %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.SenderName, msg.Content)
				}
			})
		},
	}
	var cmdWatchStats = &cobra.Command{
		Use:   "stats [membership|activity|revenue] [metric]",
		Short: "Follow a stat series",
		Long:  `watch stats prints the series of one metric whenever a new record is stored.`,
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			p := dashboardService.Panel(args[0], limit)
			follow(ctx, p, func(s live.Snapshot[types.StatRecord]) {
				for _, point := range dashboard.Series(s.Items, args[1]) {
					fmt.Println(point.Period + " " + strconv.FormatFloat(point.Value, 'f', -1, 64))
				}
			})
		},
	}
	cmdWatchStats.Flags().IntVarP(&limit, "limit", "l", 24, "number of records")

	var rootCmd = &cobra.Command{Use: "family-hub-admin"}
	rootCmd.PersistentFlags().AddFlagSet(pflag.CommandLine)
	rootCmd.AddCommand(cmdShow, cmdSet, cmdAnnounce, cmdSnapshot, cmdWatch)
	cmdShow.AddCommand(cmdShowUsers, cmdShowCategories, cmdShowPosts, cmdShowGroups, cmdShowMessages,
		cmdShowAnnouncements, cmdShowStats)
	cmdSet.AddCommand(cmdSetCategory, cmdSetRole)
	cmdWatch.AddCommand(cmdWatchMessages, cmdWatchStats)
	rootCmd.Execute()
}

// follow mounts b and prints every published snapshot until interrupted.
func follow[T any](ctx context.Context, b *live.Binding[T], show func(live.Snapshot[T])) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	defer signal.Stop(c)

	remove := b.OnChange(func(s live.Snapshot[T]) {
		if s.IsLoading {
			return
		}
		if s.Error != nil {
			fmt.Println("error: " + s.Error.Error())
			return
		}
		show(s)
		fmt.Println("---")
	})
	defer remove()
	err := b.Mount(ctx)
	if err != nil {
		return
	}
	defer b.Unmount()
	<-c
}
