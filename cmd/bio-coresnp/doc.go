// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
bio-coresnp builds a core-SNP alignment and pairwise distances for a cohort of
haploid samples aligned to a shared reference.

Each stage is a subcommand that reads and writes files, so a cohort can be
restarted from any stage:

  coverage   summarize a depth track (or pileup) and apply the coverage gate
  consensus  call a consensus sequence from a single-sample pileup
  core       join consensus sequences and extract the core SNP sites
  distance   pairwise SNP distances between consensus or core sequences
  run        all of the above over a manifest of samples
  tree       build a tree from the core alignment with FastTree

Sample usage:

  samtools mpileup -aa -B -Q 0 -f ref.fa s1.bam > s1.pileup
  bio-coresnp run -reference ref.fa -out cohort manifest.tsv

where manifest.tsv has the columns sample, pileup and (optionally) depth.
*/
package main
