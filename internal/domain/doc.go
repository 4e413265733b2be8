// Package domain models USGS earthquake catalog data and the rules that turn
// it into model features.
//
// # Data Source
//
// Events come from the USGS ComCat catalog, exported as CSV either from the
// FDSN event service (https://earthquake.usgs.gov/fdsnws/event/1/) or from a
// bulk archive. The ingestion command reads the CSV into the raw table
// unchanged; everything in this package works on those raw rows.
//
// # Catalog Conventions
//
// Time:
//
//	ISO-8601 in UTC, e.g. "2024-04-26T15:10:02.410Z". Calendar features
//	(year, month, day, hour) are always taken in UTC.
//
// Magnitude:
//
//	A single preferred magnitude per event, mixed scales (ml, md, mb, mww).
//	Values below zero are real micro-events; the catalog also contains a few
//	placeholder values outside any physical range. Magnitudes in [-1, 10] are
//	accepted, anything else is rejected.
//
// Depth:
//
//	Kilometres below the geoid. The catalog has a handful of negative depths
//	(events located above sea level); they are rejected.
//
// # Derived Fields
//
// Energy:
//
//	energy_joules = 10^(1.5*M + 4.8), the Gutenberg-Richter energy relation.
//
// Region:
//
//	A coarse rectangle classifier over longitude bands, evaluated in order,
//	first match wins, bounds inclusive:
//
//	  Americas:       lon [-180, -20]  lat [-60, 75]
//	  Europe/Africa:  lon [ -20,  60]  lat [-35, 70]
//	  Asia/Oceania:   lon [  60, 180]  lat [-50, 70]
//	  Other/Ocean:    everything else
//
//	This is a dashboard approximation, not a geographic boundary.
//
// # ID Generation
//
// Rows without a catalog id get a deterministic SHA-256 id over
// time|lat|lon|depth|mag, so re-ingesting a file reproduces the same ids and
// therefore the same train/validation split. See [GenerateID].
package domain
