// Command relaymqctl is a small driver over the client package: enough
// to declare topology and publish or consume a message from a shell,
// the way rabbitmqadmin lets an operator poke at a running broker.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymq/relaymq/client"
)

func main() {
	var addr, vhost string

	root := &cobra.Command{
		Use:   "relaymqctl",
		Short: "relaymqctl talks to a relaymqd broker",
	}
	root.PersistentFlags().StringVar(&addr, "addr", "127.0.0.1:5672", "broker address")
	root.PersistentFlags().StringVar(&vhost, "vhost", "/", "virtual host")

	root.AddCommand(declareCmd(&addr, &vhost))
	root.AddCommand(publishCmd(&addr, &vhost))
	root.AddCommand(consumeCmd(&addr, &vhost))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func connect(addr, vhost string) (*client.Client, error) {
	c, err := client.Dial(addr)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := c.Open(vhost); err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := c.ChannelOpen(1); err != nil {
		return nil, fmt.Errorf("channel.open: %w", err)
	}
	return c, nil
}

func declareCmd(addr, vhost *string) *cobra.Command {
	var exchange, exchangeType, queue, routingKey string

	cmd := &cobra.Command{
		Use:   "declare",
		Short: "declare an exchange, a queue, and bind them",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(*addr, *vhost)
			if err != nil {
				return err
			}
			defer c.Close()

			if exchange != "" {
				if err := c.ExchangeDeclare(1, exchange, exchangeType, false, true, false, false, nil); err != nil {
					return fmt.Errorf("exchange.declare: %w", err)
				}
			}
			name, _, _, err := c.QueueDeclare(1, queue, false, true, false, false, nil)
			if err != nil {
				return fmt.Errorf("queue.declare: %w", err)
			}
			fmt.Println(name)

			if exchange != "" {
				if err := c.QueueBind(1, name, exchange, routingKey, nil); err != nil {
					return fmt.Errorf("queue.bind: %w", err)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "", "exchange to declare (skipped if empty)")
	cmd.Flags().StringVar(&exchangeType, "type", "direct", "exchange type: direct, fanout, topic, headers")
	cmd.Flags().StringVar(&queue, "queue", "", "queue name (anonymous if empty)")
	cmd.Flags().StringVar(&routingKey, "routing-key", "", "binding routing key")
	return cmd
}

func publishCmd(addr, vhost *string) *cobra.Command {
	var exchange, routingKey, body string

	cmd := &cobra.Command{
		Use:   "publish",
		Short: "publish one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(*addr, *vhost)
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.BasicPublish(1, exchange, routingKey, nil, []byte(body)); err != nil {
				return fmt.Errorf("basic.publish: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&exchange, "exchange", "", "target exchange")
	cmd.Flags().StringVar(&routingKey, "routing-key", "", "routing key")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	return cmd
}

func consumeCmd(addr, vhost *string) *cobra.Command {
	var queue string
	var count int

	cmd := &cobra.Command{
		Use:   "consume",
		Short: "print count messages from a queue and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect(*addr, *vhost)
			if err != nil {
				return err
			}
			defer c.Close()

			sink := make(chan *client.Message, 16)
			tag, err := c.BasicConsume(1, queue, "", sink)
			if err != nil {
				return fmt.Errorf("basic.consume: %w", err)
			}
			defer c.BasicCancel(1, tag)

			for i := 0; i < count; i++ {
				select {
				case msg := <-sink:
					fmt.Printf("%s %s: %s\n", msg.Exchange, msg.RoutingKey, msg.Body)
				case <-time.After(10 * time.Second):
					return fmt.Errorf("timed out waiting for message %d/%d", i+1, count)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&queue, "queue", "", "queue to consume from")
	cmd.Flags().IntVar(&count, "count", 1, "number of messages to print before exiting")
	return cmd
}
