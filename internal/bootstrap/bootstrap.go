// Package bootstrap implements the cluster rendezvous control plane
// used during genesis bring-up (spec §4.6 step 1): every place
// registers its transport address with place 0 and blocks until the
// full address table is known, so the active-message transport can
// dial every peer before the computation starts.
//
// Grounded on the teacher's internal/ctrl package: a Controller-shaped
// type that owns one connection/fd for the lifetime of bring-up, with
// errors wrapped via github.com/pkg/errors the way the teacher's ctrl
// package wraps ioctl/uring failures with context.
package bootstrap

import (
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/jaxonwang/apgas-go/internal/constants"
	"github.com/jaxonwang/apgas-go/internal/logging"
)

// Topology is the address table every place needs before the
// transport can dial its peers.
type Topology struct {
	World     int      `json:"world"`
	Addresses []string `json:"addresses"`
}

// registration is what a non-coordinator place sends to place 0.
type registration struct {
	Place   int    `json:"place"`
	Address string `json:"address"`
}

// Rendezvous runs the bring-up protocol for one place and returns the
// completed Topology once every place has registered. here is this
// process's place index; world is the fixed cluster size; myAddress is
// the address this place's transport will later listen on;
// coordinatorAddr is place 0's rendezvous endpoint (meaningful only
// when here != 0).
func Rendezvous(here, world int, myAddress, coordinatorAddr string) (*Topology, error) {
	logger := logging.Default().WithPlace(here)
	if here == 0 {
		return runCoordinator(logger, world, myAddress)
	}
	return runParticipant(logger, here, world, myAddress, coordinatorAddr)
}

func runCoordinator(logger *logging.Logger, world int, myAddress string) (*Topology, error) {
	ln, err := net.Listen("tcp", CoordinatorListenAddr(myAddress))
	if err != nil {
		return nil, errors.Wrap(err, "bootstrap: coordinator listen")
	}
	defer ln.Close()

	addresses := make([]string, world)
	addresses[0] = myAddress
	remaining := world - 1

	deadline := time.Now().Add(constants.RendezvousTimeout)
	for remaining > 0 {
		if err := ln.(*net.TCPListener).SetDeadline(deadline); err != nil {
			return nil, errors.Wrap(err, "bootstrap: set accept deadline")
		}
		conn, err := ln.Accept()
		if err != nil {
			return nil, errors.Wrap(err, "bootstrap: waiting for place registrations timed out")
		}
		var reg registration
		if err := json.NewDecoder(conn).Decode(&reg); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "bootstrap: decode registration")
		}
		conn.Close()
		if reg.Place <= 0 || reg.Place >= world {
			return nil, fmt.Errorf("bootstrap: registration from out-of-range place %d", reg.Place)
		}
		if addresses[reg.Place] != "" {
			return nil, fmt.Errorf("bootstrap: duplicate registration from place %d", reg.Place)
		}
		addresses[reg.Place] = reg.Address
		remaining--
		logger.Debugf("bootstrap: registered place %d at %s (%d remaining)", reg.Place, reg.Address, remaining)
	}

	topo := &Topology{World: world, Addresses: addresses}
	if err := broadcastTopology(ln, topo, world-1); err != nil {
		return nil, err
	}
	return topo, nil
}

// broadcastTopology re-listens briefly to hand the completed table back
// to every participant that asks for it, since the coordinator has no
// persistent connection to participants after their one-shot
// registration.
func broadcastTopology(ln net.Listener, topo *Topology, expected int) error {
	deadline := time.Now().Add(constants.RendezvousTimeout)
	for i := 0; i < expected; i++ {
		if err := ln.(*net.TCPListener).SetDeadline(deadline); err != nil {
			return errors.Wrap(err, "bootstrap: set broadcast deadline")
		}
		conn, err := ln.Accept()
		if err != nil {
			return errors.Wrap(err, "bootstrap: waiting for topology pull timed out")
		}
		err = json.NewEncoder(conn).Encode(topo)
		conn.Close()
		if err != nil {
			return errors.Wrap(err, "bootstrap: send topology")
		}
	}
	return nil
}

func runParticipant(logger *logging.Logger, here, world int, myAddress, coordinatorAddr string) (*Topology, error) {
	if err := dialRetrying(coordinatorAddr, func(conn net.Conn) error {
		reg := registration{Place: here, Address: myAddress}
		return json.NewEncoder(conn).Encode(reg)
	}); err != nil {
		return nil, errors.Wrap(err, "bootstrap: register with coordinator")
	}
	logger.Debugf("bootstrap: registered with coordinator at %s", coordinatorAddr)

	var topo Topology
	if err := dialRetrying(coordinatorAddr, func(conn net.Conn) error {
		return json.NewDecoder(conn).Decode(&topo)
	}); err != nil {
		return nil, errors.Wrap(err, "bootstrap: fetch topology")
	}
	if topo.World != world {
		return nil, fmt.Errorf("bootstrap: coordinator reports world=%d, expected %d", topo.World, world)
	}
	return &topo, nil
}

// dialRetrying dials addr, retrying on connection refused (the
// coordinator's listener may not be up yet) until
// constants.DialRetryTimeout elapses, then runs fn over the connection.
func dialRetrying(addr string, fn func(net.Conn) error) error {
	deadline := time.Now().Add(constants.DialRetryTimeout)
	var lastErr error
	for time.Now().Before(deadline) {
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			lastErr = err
			time.Sleep(constants.DialRetryInterval)
			continue
		}
		err = fn(conn)
		conn.Close()
		return err
	}
	return errors.Wrapf(lastErr, "bootstrap: dial %s", addr)
}

// CoordinatorListenAddr extracts the host:port place 0 should listen
// on for rendezvous traffic; by convention this is myAddress itself
// with the port shifted by one, keeping the rendezvous and the
// steady-state transport listener from colliding. Exported so genesis
// bring-up can derive the same address participants dial.
func CoordinatorListenAddr(myAddress string) string {
	host, port, err := net.SplitHostPort(myAddress)
	if err != nil {
		return myAddress
	}
	var p int
	fmt.Sscanf(port, "%d", &p)
	return fmt.Sprintf("%s:%d", host, p+1)
}
