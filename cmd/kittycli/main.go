package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"kitties/pkg/config"
	"kitties/pkg/events"
	"kitties/pkg/kitties"
	"kitties/pkg/rpc"
	"kitties/pkg/types"
)

const usage = `usage: kittycli [flags] <command> [args]

commands:
  create
  breed <kitty-id> <kitty-id>
  transfer <kitty-id> <account>
  buy_from <kitty-id> <price> <buyer>
  sell_for <kitty-id> <price> <seller>
  kitty <kitty-id>
  owner <kitty-id>
  owned <account>
  next
  events <batch>

flags:`

func main() {
	socketPath := flag.String("socket", "/tmp/kittyd.sock", "Unix socket of the node")
	quicAddr := flag.String("quic-addr", "", "QUIC address of the node; overrides --socket")
	keySeed := flag.String("key-seed", "", "Hex ed25519 seed identifying this client over QUIC")
	signer := flag.String("signer", "", "Hex account that signs submissions over the unix socket")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var (
		client  *rpc.Client
		account *types.AccountID
		err     error
	)
	if *quicAddr != "" {
		cfg := config.Config{NodeKeySeed: *keySeed}
		key, err := cfg.NodeKey()
		if err != nil {
			config.Exitf("Invalid key seed: %v", err)
		}
		client, err = rpc.DialQUIC(ctx, *quicAddr, key)
		if err != nil {
			config.Exitf("Failed to connect: %v", err)
		}
	} else {
		if *signer != "" {
			acct, err := types.ParseAccountID(*signer)
			if err != nil {
				config.Exitf("Invalid signer: %v", err)
			}
			account = &acct
		}
		client, err = rpc.DialUnix(ctx, *socketPath)
		if err != nil {
			config.Exitf("Failed to connect: %v", err)
		}
	}
	defer client.Close()

	if err := runCommand(client, account, flag.Args()); err != nil {
		client.Close()
		config.Exitf("%s: %v", flag.Arg(0), err)
	}
}

func runCommand(client *rpc.Client, signer *types.AccountID, args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "create":
		return submit(client, signer, kitties.Create{}, args, 0)

	case "breed":
		if len(args) != 2 {
			return fmt.Errorf("expected two kitty ids")
		}
		a, err := parseKittyID(args[0])
		if err != nil {
			return err
		}
		b, err := parseKittyID(args[1])
		if err != nil {
			return err
		}
		return submit(client, signer, kitties.Breed{KittyID1: a, KittyID2: b}, args, 2)

	case "transfer":
		if len(args) != 2 {
			return fmt.Errorf("expected a kitty id and an account")
		}
		id, err := parseKittyID(args[0])
		if err != nil {
			return err
		}
		to, err := types.ParseAccountID(args[1])
		if err != nil {
			return err
		}
		return submit(client, signer, kitties.Transfer{KittyID: id, NewOwner: to}, args, 2)

	case "buy_from", "sell_for":
		if len(args) != 3 {
			return fmt.Errorf("expected a kitty id, a price and an account")
		}
		id, err := parseKittyID(args[0])
		if err != nil {
			return err
		}
		price, err := types.ParseBalance(args[1])
		if err != nil {
			return err
		}
		party, err := types.ParseAccountID(args[2])
		if err != nil {
			return err
		}
		var call kitties.Call = kitties.BuyFrom{KittyID: id, Price: price, Buyer: party}
		if cmd == "sell_for" {
			call = kitties.SellFor{KittyID: id, Price: price, Seller: party}
		}
		return submit(client, signer, call, args, 3)

	case "kitty":
		if len(args) != 1 {
			return fmt.Errorf("expected a kitty id")
		}
		id, err := parseKittyID(args[0])
		if err != nil {
			return err
		}
		kitty, found, err := client.Kitty(id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("none")
			return nil
		}
		fmt.Println(kitty)
		return nil

	case "owner":
		if len(args) != 1 {
			return fmt.Errorf("expected a kitty id")
		}
		id, err := parseKittyID(args[0])
		if err != nil {
			return err
		}
		owner, found, err := client.Owner(id)
		if err != nil {
			return err
		}
		if !found {
			fmt.Println("none")
			return nil
		}
		fmt.Println(owner)
		return nil

	case "owned":
		if len(args) != 1 {
			return fmt.Errorf("expected an account")
		}
		owner, err := types.ParseAccountID(args[0])
		if err != nil {
			return err
		}
		ids, err := client.KittiesOwnedBy(owner)
		if err != nil {
			return err
		}
		for _, id := range ids {
			fmt.Println(id)
		}
		return nil

	case "next":
		next, err := client.NextKittyID()
		if err != nil {
			return err
		}
		fmt.Println(next)
		return nil

	case "events":
		if len(args) != 1 {
			return fmt.Errorf("expected a batch number")
		}
		batch, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid batch %q: %w", args[0], err)
		}
		records, err := client.Events(batch)
		if err != nil {
			return err
		}
		for _, rec := range records {
			fmt.Printf("%d/%d %s\n", rec.Batch, rec.Extrinsic, formatEvent(rec.Event))
		}
		return nil

	default:
		return fmt.Errorf("unknown command")
	}
}

func submit(client *rpc.Client, signer *types.AccountID, call kitties.Call, args []string, want int) error {
	if len(args) != want {
		return fmt.Errorf("unexpected arguments %v", args[want:])
	}
	res, err := client.Submit(rpc.Extrinsic{Signer: signer, Call: call})
	if err != nil {
		return err
	}
	outcome := res.Outcomes[0]
	if outcome.Err != nil {
		return outcome.Err
	}
	fmt.Printf("batch %d: %s ok\n", res.Batch, call.Name())
	for _, ev := range outcome.Events {
		fmt.Println(formatEvent(ev))
	}
	return nil
}

func parseKittyID(s string) (types.KittyIndex, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid kitty id %q: %w", s, err)
	}
	return types.KittyIndex(id), nil
}

func formatEvent(ev events.Event) string {
	switch e := ev.(type) {
	case events.KittyCreated:
		return fmt.Sprintf("%s owner=%s id=%d kitty=%s", e.Kind(), e.Owner, e.ID, e.Kitty)
	case events.KittyBred:
		return fmt.Sprintf("%s owner=%s id=%d kitty=%s", e.Kind(), e.Owner, e.ID, e.Kitty)
	case events.KittyTransferred:
		return fmt.Sprintf("%s from=%s to=%s id=%d", e.Kind(), e.From, e.To, e.ID)
	default:
		return ev.Kind().String()
	}
}
