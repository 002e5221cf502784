package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"

	"github.com/mosaicnetworks/cellchain/src/conductor"
	hh "github.com/mosaicnetworks/cellchain/src/holohash"
	"github.com/mosaicnetworks/cellchain/src/service"
	"github.com/spf13/cobra"
)

var (
	callService   string
	callSecret    string
	callAgentFrom string
)

// NewCallCmd returns the command that makes a zome call through the HTTP
// service of a running node.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call [dna] [agent] [zome] [fn] [json payload]",
		Short: "Call a zome function on a running node",
		Args:  cobra.RangeArgs(4, 5),
		RunE:  callZome,
	}
	cmd.Flags().StringVarP(&callService, "service", "s", _config.Node.ServiceAddr, "IP:Port of the node's HTTP service")
	cmd.Flags().StringVar(&callSecret, "secret", "", "Capability secret")
	cmd.Flags().StringVar(&callAgentFrom, "provenance", "", "Calling agent, defaults to the cell's agent")
	return cmd
}

func callZome(cmd *cobra.Command, args []string) error {
	dna, err := hh.Parse(args[0])
	if err != nil {
		return fmt.Errorf("dna: %v", err)
	}
	agent, err := hh.Parse(args[1])
	if err != nil {
		return fmt.Errorf("agent: %v", err)
	}
	req := service.CallRequest{
		Cell:      conductor.CellID{Dna: dna, Agent: agent},
		Zome:      args[2],
		Fn:        args[3],
		CapSecret: callSecret,
	}
	if len(args) == 5 {
		if !json.Valid([]byte(args[4])) {
			return fmt.Errorf("payload is not valid JSON")
		}
		req.Payload = json.RawMessage(args[4])
	}
	if callAgentFrom != "" {
		if req.Provenance, err = hh.Parse(callAgentFrom); err != nil {
			return fmt.Errorf("provenance: %v", err)
		}
	}

	body, err := json.Marshal(&req)
	if err != nil {
		return err
	}
	resp, err := http.Post(fmt.Sprintf("http://%s/call", callService), "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	out, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %s", resp.Status, bytes.TrimSpace(out))
	}
	fmt.Println(string(bytes.TrimSpace(out)))
	return nil
}
