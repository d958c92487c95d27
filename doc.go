// Package dcs is a modular framework for distributed control systems. It
// manages pluggable sensor and actuator modules, runs periodic control
// loops that map readings to commands, and guards every dispatched command
// behind a safety interlock with a system-wide emergency stop.
//
// The system package assembles the framework: a module registry that loads
// plugins or accepts in-process registrations, a control-loop scheduler
// with fixed-frequency ticking, a watchdog monitoring module and loop
// heartbeats, and a metrics aggregator publishing rolling system
// statistics to Prometheus and an optional callback.
//
// Typical usage:
//
//	cfg := config.Default()
//	cs, err := system.New(cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cs.Close()
//
//	cs.RegisterModule(mySensor)
//	cs.RegisterModule(myActuator)
//	cs.CreateLoop("temperature", 100)
//	cs.AddSensor("temperature", mySensor.Name())
//	cs.AddActuator("temperature", myActuator.Name())
//	cs.SetControlFunction("temperature", control)
//	cs.Start()
package dcs
