// Command salesctl отправляет команды sales-service и читает заказы клиента.
//
//	salesctl submit -customer 1 -item 1:2 -item 3:1
//	salesctl orders -customer 1
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/vladislavdragonenkov/sales/internal/domain"
	"github.com/vladislavdragonenkov/sales/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/sales/internal/service/sales"
	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

const (
	envKafkaBrokers = "SALES_KAFKA_BROKERS"
	envPostgresDSN  = "SALES_POSTGRES_DSN"
	commandTimeout  = 30 * time.Second
)

var errUsage = errors.New("usage: salesctl submit|orders [flags]")

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	if len(args) == 0 {
		return errUsage
	}

	switch args[0] {
	case "submit":
		opts, err := parseSubmit(args[1:], getenv)
		if err != nil {
			return err
		}
		return submit(ctx, opts, stdout)
	case "orders":
		opts, err := parseOrders(args[1:], getenv)
		if err != nil {
			return err
		}
		return listOrders(ctx, opts, stdout)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}

type submitOptions struct {
	brokers []string
	topic   string
	cmd     domain.SubmitOrderCommand
}

func parseSubmit(args []string, getenv func(string) string) (submitOptions, error) {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		brokers    = fs.String("brokers", getenv(envKafkaBrokers), "comma-separated kafka brokers")
		topic      = fs.String("topic", kafka.TopicSubmitOrder, "submit-order topic")
		customerID = fs.Int64("customer", 0, "customer id")
		items      itemsFlag
	)
	fs.Var(&items, "item", "product_id:quantity (repeatable)")

	if err := fs.Parse(args); err != nil {
		return submitOptions{}, err
	}
	if *customerID <= 0 {
		return submitOptions{}, errors.New("submit: -customer is required")
	}
	brokerList := splitList(*brokers)
	if len(brokerList) == 0 {
		return submitOptions{}, fmt.Errorf("submit: -brokers or %s is required", envKafkaBrokers)
	}

	return submitOptions{
		brokers: brokerList,
		topic:   *topic,
		cmd: domain.SubmitOrderCommand{
			CorrelationID: uuid.NewString(),
			CustomerID:    *customerID,
			Items:         items,
		},
	}, nil
}

func submit(ctx context.Context, opts submitOptions, stdout io.Writer) error {
	producer, err := kafka.NewProducer(opts.brokers)
	if err != nil {
		return err
	}
	defer producer.Close()

	if err := kafka.NewCommandSender(producer, opts.topic).SubmitOrder(ctx, opts.cmd); err != nil {
		return err
	}
	_, err = fmt.Fprintf(stdout, "submitted correlation_id=%s\n", opts.cmd.CorrelationID)
	return err
}

type ordersOptions struct {
	dsn        string
	customerID int64
}

func parseOrders(args []string, getenv func(string) string) (ordersOptions, error) {
	fs := flag.NewFlagSet("orders", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	dsn := fs.String("dsn", getenv(envPostgresDSN), "PostgreSQL DSN")
	customerID := fs.Int64("customer", 0, "customer id")
	if err := fs.Parse(args); err != nil {
		return ordersOptions{}, err
	}
	if *customerID <= 0 {
		return ordersOptions{}, errors.New("orders: -customer is required")
	}
	if strings.TrimSpace(*dsn) == "" {
		return ordersOptions{}, fmt.Errorf("orders: -dsn or %s is required", envPostgresDSN)
	}
	return ordersOptions{dsn: strings.TrimSpace(*dsn), customerID: *customerID}, nil
}

func listOrders(ctx context.Context, opts ordersOptions, stdout io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return err
	}
	defer store.Close()

	orders, err := sales.NewOrderQuery(postgres.NewOrderRepository(store)).ListOrders(ctx, opts.customerID)
	if err != nil {
		return err
	}
	return renderOrders(stdout, orders)
}

type orderView struct {
	ID         int64      `json:"id"`
	CustomerID int64      `json:"customer_id"`
	Status     string     `json:"status"`
	Total      string     `json:"total"`
	Items      []itemView `json:"items"`
	CreatedAt  time.Time  `json:"created_at"`
}

type itemView struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
}

func renderOrders(w io.Writer, orders []domain.Order) error {
	views := make([]orderView, 0, len(orders))
	for _, order := range orders {
		items := make([]itemView, 0, len(order.Items))
		for _, item := range order.Items {
			items = append(items, itemView{
				ProductID: item.ProductID,
				Name:      item.Name,
				Quantity:  item.Quantity,
				Price:     item.Price.String(),
			})
		}
		views = append(views, orderView{
			ID:         order.ID,
			CustomerID: order.CustomerID,
			Status:     order.Status.String(),
			Total:      order.Total.String(),
			Items:      items,
			CreatedAt:  order.CreatedAt,
		})
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(views)
}

// itemsFlag разбирает повторяемый флаг -item product_id:quantity.
type itemsFlag []domain.ItemRequest

func (f *itemsFlag) String() string {
	parts := make([]string, 0, len(*f))
	for _, item := range *f {
		parts = append(parts, fmt.Sprintf("%d:%d", item.ProductID, item.Quantity))
	}
	return strings.Join(parts, ",")
}

func (f *itemsFlag) Set(value string) error {
	productRaw, quantityRaw, ok := strings.Cut(value, ":")
	if !ok {
		return fmt.Errorf("item %q: expected product_id:quantity", value)
	}
	productID, err := strconv.ParseInt(strings.TrimSpace(productRaw), 10, 64)
	if err != nil {
		return fmt.Errorf("item %q: product id: %w", value, err)
	}
	quantity, err := strconv.ParseInt(strings.TrimSpace(quantityRaw), 10, 32)
	if err != nil {
		return fmt.Errorf("item %q: quantity: %w", value, err)
	}
	if quantity <= 0 {
		return fmt.Errorf("item %q: quantity must be positive", value)
	}
	*f = append(*f, domain.ItemRequest{ProductID: productID, Quantity: int32(quantity)})
	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
